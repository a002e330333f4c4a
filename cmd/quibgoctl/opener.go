package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/maharmstone/quibgo/boottype"
)

// localOpener implements imagegraph.FileOpener (and firmware.Volume) over
// an ordinary directory tree, standing in for the firmware volume a real
// boot would read the kernel/HAL/driver images from: root/system32/...,
// root/system32/drivers/....
type localOpener struct {
	root string
}

func newLocalOpener(root string) *localOpener {
	return &localOpener{root: root}
}

func (o *localOpener) ReadFile(dir, name string) ([]byte, error) {
	nativeDir := strings.ReplaceAll(dir, `\`, string(os.PathSeparator))
	full := filepath.Join(o.root, nativeDir, name)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, boottype.New("read_file", boottype.NotFound, errors.Wrap(err, full))
	}
	return data, nil
}

func (o *localOpener) GetArcName() (string, error) {
	return "multi(0)disk(0)rdisk(0)partition(1)", nil
}
