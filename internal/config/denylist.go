package config

// DefaultDenylistDomains returns a curated list of domains that should never
// be tracked. These include banking, password managers, healthcare portals,
// authentication providers, and other sensitive services.
func DefaultDenylistDomains() []string {
	return []string{
		// Banking & Financial
		"chase.com",
		"bankofamerica.com",
		"wellsfargo.com",
		"citi.com",
		"usbank.com",
		"capitalone.com",
		"ally.com",
		"schwab.com",
		"fidelity.com",
		"vanguard.com",
		"etrade.com",
		"robinhood.com",
		"paypal.com",
		"venmo.com",
		"zelle.com",

		// Password Managers
		"1password.com",
		"lastpass.com",
		"bitwarden.com",
		"dashlane.com",
		"keepersecurity.com",

		// Authentication & Identity
		"accounts.google.com",
		"login.microsoftonline.com",
		"login.live.com",
		"auth0.com",
		"okta.com",
		"onelogin.com",
		"duo.com",

		// Healthcare & Medical
		"mychart.com",
		"kp.org",
		"healthcare.gov",
		"medicare.gov",

		// Government & Tax
		"irs.gov",
		"ssa.gov",
		"login.gov",
		"id.me",
		"turbotax.intuit.com",

		// Crypto & Trading
		"coinbase.com",
		"binance.com",
		"kraken.com",

		// HR & Payroll
		"workday.com",
		"adp.com",
		"gusto.com",
	}
}
