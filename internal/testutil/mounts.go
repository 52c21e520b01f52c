package testutil

import (
	"context"

	"disksanitizer/internal/system"
)

// FakeMounts is a static mount table.
type FakeMounts struct {
	Root    string
	RootErr error
	Used    map[string][]system.MountPoint
	Queried int
}

func (m *FakeMounts) RootSource(ctx context.Context) (string, error) {
	m.Queried++
	return m.Root, m.RootErr
}

func (m *FakeMounts) InUse(ctx context.Context, devicePath string) ([]system.MountPoint, error) {
	m.Queried++
	return m.Used[devicePath], nil
}
