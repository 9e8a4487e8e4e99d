package constants

import "time"

// Application constants
const (
	ApplicationName  = "nsmgr"
	ApplicationTitle = "NationStates Nation Manager"
	UntitledName     = "Untitled"
)

// Remote service endpoints
const (
	DefaultAPIBaseURL  = "https://www.nationstates.net/cgi-bin/api.cgi"
	DefaultSiteBaseURL = "https://www.nationstates.net/"
	DefaultHTTPTimeout = 30 * time.Second
)

// Throttling limits, mirrored by the options validation
const (
	DefaultAPIRequestDelay   = 600 * time.Millisecond
	MinAPIRequestDelay       = 600 * time.Millisecond
	MaxAPIRequestDelay       = 99999 * time.Millisecond
	DefaultLoginAttemptDelay = 6000 * time.Millisecond
	MinLoginAttemptDelay     = 6000 * time.Millisecond
	MaxLoginAttemptDelay     = 99999 * time.Millisecond
)

// Row placeholder texts while a worker is pending
const (
	PendingStatusText  = "Attempting to retrieve the nation's status..."
	PendingLoginText   = "Attempting to log into nation..."
	PendingRestoreText = "Attempting to restore nation..."
)

// Row result texts
const (
	StatusNetworkErrorText  = "network error, could not determine status"
	LoginNetworkErrorText   = "network error, could not log in"
	RestoreNetworkErrorText = "network error, could not restore"
	LoginRejectedText       = "login failed: bad credentials"
	RestoreRejectedText     = "restore failed: bad credentials"
	LoginSucceededFormat    = "logged in at %s"
	RestoreSucceededFormat  = "restored at %s"
)

// Display formats
const (
	LastActivityLayout = "2006-01-02 15:04"
	ActionTimeLayout   = "2006-01-02 15:04:05"
)

// Container file watcher constants
const (
	WatcherInterval   = 2 * time.Second
	WatcherBufferSize = 10
)

// Configuration constants
const (
	ConfigFileName    = "config.toml"
	DefaultSortColumn = "name"
	DefaultSortOrder  = "asc"
	MaxRecentFiles    = 10
	BackupDirName     = "backups"
	KeyringService    = "nsmgr"
)
