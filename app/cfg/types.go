package cfg

const (
	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"
)

type Cfg struct {
	// Storage configuration
	ConfigDir      string
	DataDir        string
	HistoryBackend string
	HistoryFile    string
	ExportDir      string
	RetentionDays  int

	// Scheduling
	SkipInitialRun bool
	Watch          bool

	// One-shot mode
	Once         bool
	Search       string
	Site         string
	SummaryHours int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
