package dataset

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrFormat is returned for a truncated or inconsistent CIFAR file.
var ErrFormat = errors.New("malformed cifar file")

// CIFAR images are 3x32x32, stored channel-major after the label byte(s).
const (
	cifarChannels = 3
	cifarSide     = 32
	cifarPixels   = cifarChannels * cifarSide * cifarSide
)

// cifarVariant describes one binary distribution.
type cifarVariant struct {
	dir        string
	train      []string
	test       []string
	labelBytes int // CIFAR-100 records carry a coarse then a fine label
	classes    int
}

var (
	cifar10 = cifarVariant{
		dir: "cifar-10-batches-bin",
		train: []string{
			"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
			"data_batch_4.bin", "data_batch_5.bin",
		},
		test:       []string{"test_batch.bin"},
		labelBytes: 1,
		classes:    10,
	}
	cifar100 = cifarVariant{
		dir:        "cifar-100-binary",
		train:      []string{"train.bin"},
		test:       []string{"test.bin"},
		labelBytes: 2,
		classes:    100,
	}
)

func loadCIFAR(dataDir string, v cifarVariant) (train, test *Split, err error) {
	if train, err = readCIFARFiles(filepath.Join(dataDir, v.dir), v.train, v); err != nil {
		return nil, nil, errors.Wrap(err, "train split")
	}
	if test, err = readCIFARFiles(filepath.Join(dataDir, v.dir), v.test, v); err != nil {
		return nil, nil, errors.Wrap(err, "test split")
	}
	return train, test, nil
}

func readCIFARFiles(dir string, names []string, v cifarVariant) (*Split, error) {
	split := &Split{Dims: []int{cifarChannels, cifarSide, cifarSide}}
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open cifar file")
		}
		err = readCIFAR(bufio.NewReader(f), v, split)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return split, nil
}

// readCIFAR appends every record of r to split. Pixels are scaled to [0,1].
func readCIFAR(r io.Reader, v cifarVariant, split *Split) error {
	record := make([]byte, v.labelBytes+cifarPixels)
	for n := 0; ; n++ {
		_, err := io.ReadFull(r, record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(ErrFormat, "record %d: %v", n, err)
		}

		// The fine label is the last label byte.
		label := int32(record[v.labelBytes-1])
		if int(label) >= v.classes {
			return errors.Wrapf(ErrFormat, "record %d: label %d >= %d", n, label, v.classes)
		}
		split.Labels = append(split.Labels, label)
		for _, p := range record[v.labelBytes:] {
			split.Images = append(split.Images, float32(p)/255.0)
		}
	}
}
