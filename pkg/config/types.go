package config

type Config struct {
	// OutputDir is a local directory or a gs://bucket/prefix destination
	OutputDir string `json:"outputDir"`
	// MergeOutput writes every linked item into a single AllAccounts file
	MergeOutput bool         `json:"mergeOutput"`
	Merged      MergedConfig `json:"merged"`

	Environment     string   `json:"environment"`
	ClientName      string   `json:"clientName"`
	ClientUserID    string   `json:"clientUserId"`
	CountryCodes    []string `json:"countryCodes"`
	DefaultCurrency string   `json:"defaultCurrency"`
	// DefaultTime is the time of day given to transactions that only have a date
	DefaultTime string `json:"defaultTime"`
	TimeZone    string `json:"timeZone"`

	// Schedule is a cron spec used with --schedule
	Schedule  string `json:"schedule"`
	StateFile string `json:"stateFile"`

	SQL    SQLConfig    `json:"sql"`
	Influx InfluxConfig `json:"influx"`

	Items []Item `json:"items"`
}

// Item is one linked Plaid item, a login at a single institution.
type Item struct {
	Name          string `json:"name"`
	ItemID        string `json:"itemId"`
	InstitutionID string `json:"institutionId"`
	RoutingNumber string `json:"routingNumber"`
	// BID is the Quicken Web Connect bank id
	BID string `json:"bid"`
}

type MergedConfig struct {
	Org string `json:"org"`
	Fid string `json:"fid"`
	BID string `json:"bid"`
}

type SQLConfig struct {
	Enabled     bool   `json:"enabled"`
	Database    string `json:"database"`
	CursorTable string `json:"cursorTable"`
}

type InfluxConfig struct {
	Enabled     bool   `json:"enabled"`
	Database    string `json:"database"`
	Measurement string `json:"measurement"`
}

type Secrets struct {
	Plaid        PlaidSecrets      `json:"plaid"`
	AccessTokens map[string]string `json:"accessTokens"`
	SQL          SqlSecrets        `json:"sql"`
	Influx       InfluxSecrets     `json:"influx"`

	// Alternative to the SQL struct
	DatabaseURL string `json:"databaseUrl" env:"DATABASE_URL"`
}

type PlaidSecrets struct {
	ClientID string `json:"clientId" env:"PLAID_CLIENT_ID"`
	Secret   string `json:"secret" env:"PLAID_SECRET"`
}

type SqlSecrets struct {
	SqlHost     string `json:"host" env:"SQL_HOST"`
	SqlUsername string `json:"username" env:"SQL_USERNAME"`
	SqlPassword string `json:"password" env:"SQL_PASSWORD"`
}

type InfluxSecrets struct {
	InfluxEndpoint string `json:"endpoint" env:"INFLUX_ENDPOINT"`
	InfluxUsername string `json:"username" env:"INFLUX_USERNAME"`
	InfluxPassword string `json:"password" env:"INFLUX_PASSWORD"`
}
