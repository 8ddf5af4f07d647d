package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const kekSize = 32

// KEKProvider serves the current key-encryption key. When the KEK comes
// from a file, the file is watched and the key is swapped in place on
// change, so rotating the KEK does not require a restart. In-flight
// requests keep the key they started with.
type KEKProvider struct {
	mu  sync.RWMutex
	kek []byte

	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewKEKProvider builds a provider from the encryption config. An inline
// KEK is static; a file-based KEK is loaded and then watched.
func NewKEKProvider(cfg EncryptionConfig) (*KEKProvider, error) {
	if cfg.KEK != "" {
		kek, err := decodeKEK(cfg.KEK)
		if err != nil {
			return nil, err
		}
		return &KEKProvider{kek: kek}, nil
	}

	p := &KEKProvider{path: cfg.KEKFile, done: make(chan struct{})}
	if err := p.reload(); err != nil {
		return nil, err
	}
	if err := p.watch(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the KEK to use for new requests. The returned slice
// must not be modified.
func (p *KEKProvider) Current() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.kek
}

// Close stops the file watcher, if any.
func (p *KEKProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

func (p *KEKProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read KEK file: %w", err)
	}
	kek, err := decodeKEK(strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.kek = kek
	p.mu.Unlock()
	return nil
}

func (p *KEKProvider) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create KEK watcher: %w", err)
	}
	// Watch the directory, not the file: editors and secret mounts
	// replace the file by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch KEK file: %w", err)
	}
	p.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := p.reload(); err != nil {
					// Keep serving the previous key.
					logrus.WithError(err).WithField("path", p.path).Error("KEK reload failed")
					continue
				}
				logrus.WithField("path", p.path).Info("KEK reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Error("KEK watcher error")
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

func decodeKEK(encoded string) ([]byte, error) {
	kek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed KEK: %w", err)
	}
	if len(kek) != kekSize {
		return nil, fmt.Errorf("invalid KEK size: expected %d bytes, got %d", kekSize, len(kek))
	}
	return kek, nil
}
