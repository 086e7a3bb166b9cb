package extract

// DefaultProcedures is the known procedure vocabulary, checked
// longest-phrase-first so that more specific entries win.
func DefaultProcedures() []string {
	return []string{
		"knee surgery",
		"heart surgery",
		"hip replacement",
		"cataract surgery",
		"cancer treatment",
		"eye surgery",
		"day care procedure",
		"maternity treatment",
		"dental treatment",
	}
}

// DefaultLocations is the known city vocabulary. The earliest occurrence in
// the query text wins.
func DefaultLocations() []string {
	return []string{
		"pune",
		"mumbai",
		"delhi",
		"bangalore",
		"chennai",
		"hyderabad",
		"kolkata",
		"ahmedabad",
		"jaipur",
		"lucknow",
	}
}
