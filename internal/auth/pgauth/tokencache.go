package pgauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// FileTokenCache stores the access token as JSON under the user config dir,
// the process-restart analogue of browser local storage.
type FileTokenCache struct{ dir string }

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// NewFileTokenCache creates a cache rooted at XDG_CONFIG_HOME/snsync (or
// ~/.config/snsync).
func NewFileTokenCache() *FileTokenCache {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return &FileTokenCache{dir: filepath.Join(v, "snsync")}
	}
	home, _ := os.UserHomeDir()
	return &FileTokenCache{dir: filepath.Join(home, ".config", "snsync")}
}

// NewFileTokenCacheAt creates a cache rooted at an explicit directory.
func NewFileTokenCacheAt(dir string) *FileTokenCache { return &FileTokenCache{dir: dir} }

func (f *FileTokenCache) path() string { return filepath.Join(f.dir, "token.json") }

// Load returns the cached token, empty if none.
func (f *FileTokenCache) Load() (string, error) {
	b, err := os.ReadFile(f.path())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	return tf.AccessToken, nil
}

// Save stores the token with 0600 permissions.
func (f *FileTokenCache) Save(token string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: token, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(), b, 0o600)
}

// Clear removes the cached token.
func (f *FileTokenCache) Clear() error {
	err := os.Remove(f.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
