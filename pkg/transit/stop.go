package transit

type Stop struct {
	PrimaryIdentifier string

	Name       string
	OtherNames map[string]string

	Location *Location

	AgencyRef string
}
