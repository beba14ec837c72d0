// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dirlock provides an advisory exclusive lock on a directory.
//
// It is used to prevent two proxy processes on the same host from serving the same data directory.
package dirlock

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// Filename is the name of the lock file created inside the locked directory.
const Filename = ".dbproxy.lock"

// ErrLocked is returned when the directory is already locked by another process or Lock.
var ErrLocked = errors.New("directory is locked by another process")

// Lock represents a held directory lock.
type Lock struct {
	f *os.File
}

// New locks the given directory, creating it if needed.
//
// It does not wait; if the lock is held, it returns an error wrapping ErrLocked.
func New(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, lazyerrors.Error(err)
	}

	f, err := os.OpenFile(filepath.Join(dir, Filename), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = flock(f); err != nil {
		_ = f.Close()
		return nil, lazyerrors.Errorf("%s: %w", dir, err)
	}

	return &Lock{f: f}, nil
}

// Unlock releases the lock. It is safe to call it multiple times.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}

	err := unflock(l.f)
	if e := l.f.Close(); err == nil {
		err = e
	}

	l.f = nil

	return err
}
