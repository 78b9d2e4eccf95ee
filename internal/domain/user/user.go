package user

// Record is a study participant as stored in the users table. BirthYear is
// reported in whole years; Salutation is the survey's coded answer.
type Record struct {
	UserID     int64
	BirthYear  *float64
	Salutation *float64
	ZipCode    string
	Age        *float64
}
