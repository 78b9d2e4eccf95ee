package cohort

// Flag names a cohort. Memberships are not mutually exclusive.
type Flag string

const (
	FlagPositive          Flag = "positive"
	FlagNegative          Flag = "negative"
	FlagUnvaccinated      Flag = "unvaccinated"
	FlagVaccinated        Flag = "vaccinated"
	FlagVaccinatedDelta   Flag = "vaccinated_delta"
	FlagVaccinatedOmicron Flag = "vaccinated_omicron"
	FlagTotal             Flag = "total"
)

var Flags = []Flag{
	FlagPositive,
	FlagNegative,
	FlagUnvaccinated,
	FlagVaccinated,
	FlagVaccinatedDelta,
	FlagVaccinatedOmicron,
	FlagTotal,
}

type Membership struct {
	UserID            int64
	Positive          bool
	Negative          bool
	Unvaccinated      bool
	Vaccinated        bool
	VaccinatedDelta   bool
	VaccinatedOmicron bool
	Total             bool
}

// Has reports membership in the named cohort.
func (m Membership) Has(f Flag) bool {
	switch f {
	case FlagPositive:
		return m.Positive
	case FlagNegative:
		return m.Negative
	case FlagUnvaccinated:
		return m.Unvaccinated
	case FlagVaccinated:
		return m.Vaccinated
	case FlagVaccinatedDelta:
		return m.VaccinatedDelta
	case FlagVaccinatedOmicron:
		return m.VaccinatedOmicron
	case FlagTotal:
		return m.Total
	default:
		return false
	}
}
