package protocol

// Directory and file names used under the croft home directory.
const (
	// CroftDir is the user-level state directory (e.g., ~/.croft).
	CroftDir = ".croft"

	// InboxDir is the directory watched for account files to import.
	InboxDir = "inbox"

	// WorkersDir holds one output.log per account worker.
	WorkersDir = "workers"
)
