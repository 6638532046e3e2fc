package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type fileBackend struct {
	mu   sync.Mutex
	path string
}

type fileStoreData struct {
	Entries map[string]string `json:"entries"`
}

func newFileBackend(dir string) *fileBackend {
	return &fileBackend{path: filepath.Join(dir, "keystore.json")}
}

func (fs *fileBackend) load() (fileStoreData, error) {
	data := fileStoreData{Entries: make(map[string]string)}

	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return data, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, err
	}
	if data.Entries == nil {
		data.Entries = make(map[string]string)
	}
	return data, nil
}

func (fs *fileBackend) save(data fileStoreData) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path, raw, 0o600)
}

func key(service, user string) string {
	return service + "/" + user
}

func (fs *fileBackend) Get(service, user string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.load()
	if err != nil {
		return "", err
	}
	v, ok := data.Entries[key(service, user)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (fs *fileBackend) Set(service, user, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.load()
	if err != nil {
		return err
	}
	data.Entries[key(service, user)] = value
	return fs.save(data)
}

func (fs *fileBackend) Delete(service, user string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.load()
	if err != nil {
		return err
	}
	if _, ok := data.Entries[key(service, user)]; !ok {
		return ErrNotFound
	}
	delete(data.Entries, key(service, user))
	return fs.save(data)
}
