package clientsdk

import "os"

// writeFile persists content to path with owner-readable/writable
// permissions.
func writeFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o600)
}
