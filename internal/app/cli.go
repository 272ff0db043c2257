package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.String("log-level", "", "Log level: debug, info, warn, or error")
	flags.String("log-format", "", "Log format: text or json")
	RegisterIndexFlags(flags)
}

// RegisterIndexFlags registers the flags that locate and tune the file index.
// One-shot commands that don't serve use these alone.
func RegisterIndexFlags(flags *pflag.FlagSet) {
	flags.StringP("data-dir", "d", "", "Data directory holding the index and change log")
	flags.String("store-path", "", "Change log database path (default <data-dir>/changelog.db)")
	flags.String("backup-dir", "", "Default backup directory (default <data-dir>/backup)")
	flags.Int("rebuild-batch-size", 0, "Records per commit when rebuilding the index")
	flags.Int("query-cache-size", 0, "Number of cached result pages; 0 disables the cache")
	flags.Int("max-page-size", 0, "Maximum number of results per search page")
	flags.Int("max-terms", 0, "Maximum number of values per term listing")
	flags.Int("merge-max-segments-per-tier", 0, "Segments per tier before the index merges them")
}
