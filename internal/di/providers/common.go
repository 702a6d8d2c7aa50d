package providers

import "time"

const (
	// setupTimeout bounds backend initialization such as creating DynamoDB tables.
	setupTimeout = 2 * time.Minute

	// dataDirPerm is the mode of directories created for on-disk stores.
	dataDirPerm = 0o750
)
