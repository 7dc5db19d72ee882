// Package dataset provides the train and test streams fed to the trainer.
//
// Streams are finite and restartable: every range over Batches is one pass
// over the split. Two sources are supported, the CIFAR-10/100 binary
// distributions and a seeded synthetic set of Gaussian class blobs.
package dataset

import (
	"iter"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/batch"
	"github.com/born-ml/mimo/internal/config"
)

// ErrUnknownDataset is returned by Load for an unsupported dataset name.
var ErrUnknownDataset = errors.New("unknown dataset")

// Stream yields the mini-batches of one split.
type Stream interface {
	// Batches returns an iterator over one pass of the split.
	Batches() iter.Seq2[batch.Batch, error]

	// Len returns the number of examples in one pass.
	Len() int
}

// Seeker is a Stream that can fast-forward its shuffle by whole passes, so a
// resumed run sees the same example order as an uninterrupted one.
type Seeker interface {
	Stream
	SkipPasses(n int)
}

// Dataset bundles both splits with their shared geometry.
type Dataset struct {
	Name       string
	Train      Stream
	Test       Stream
	NumClasses int
	TrainSize  int
	TestSize   int
	InputShape []int
}

// Load opens the dataset named by cfg.Dataset.
func Load(cfg config.Config) (*Dataset, error) {
	var (
		train, test *Split
		classes     int
		err         error
	)
	switch cfg.Dataset {
	case "cifar10":
		classes = cifar10.classes
		train, test, err = loadCIFAR(cfg.DataDir, cifar10)
	case "cifar100":
		classes = cifar100.classes
		train, test, err = loadCIFAR(cfg.DataDir, cifar100)
	case "synthetic":
		classes = SyntheticClasses
		train, test = Synthetic(cfg.SyntheticTrain, cfg.SyntheticTest, cfg.Seed)
	default:
		return nil, errors.Wrapf(ErrUnknownDataset, "%q", cfg.Dataset)
	}
	if err != nil {
		return nil, err
	}

	// One generator per split.
	trainRNG := rand.New(rand.NewPCG(cfg.Seed, 0x747261696e))
	testRNG := rand.New(rand.NewPCG(cfg.Seed, 0x74657374))

	ds := &Dataset{
		Name:       cfg.Dataset,
		Train:      NewMemory(train, cfg.BatchSize, trainRNG),
		Test:       NewMemory(test, cfg.TestBatchSize, nil),
		NumClasses: classes,
		TrainSize:  train.Len(),
		TestSize:   test.Len(),
		InputShape: append([]int(nil), train.Dims...),
	}
	if cfg.ShuffleTest {
		ds.Test = NewMemory(test, cfg.TestBatchSize, testRNG)
	}
	return ds, nil
}

// Split is a fully decoded set of examples.
type Split struct {
	Images []float32
	Labels []int32
	Dims   []int
}

// Len returns the number of examples.
func (s *Split) Len() int {
	return len(s.Labels)
}

// Memory streams an in-memory Split in fixed-size batches.
// The last batch of a pass may be shorter.
type Memory struct {
	split     *Split
	batchSize int
	rng       *rand.Rand
}

// NewMemory returns a stream over split. A non-nil rng reshuffles the
// example order at the start of every pass.
func NewMemory(split *Split, batchSize int, rng *rand.Rand) *Memory {
	return &Memory{split: split, batchSize: max(batchSize, 1), rng: rng}
}

// Len returns the number of examples per pass.
func (m *Memory) Len() int {
	return m.split.Len()
}

// SkipPasses advances the shuffle as if n passes had been iterated.
func (m *Memory) SkipPasses(n int) {
	if m.rng == nil {
		return
	}
	for range n {
		m.rng.Shuffle(m.split.Len(), func(int, int) {})
	}
}

// Batches implements Stream.
func (m *Memory) Batches() iter.Seq2[batch.Batch, error] {
	return func(yield func(batch.Batch, error) bool) {
		n := m.split.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if m.rng != nil {
			m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		size := 1
		for _, d := range m.split.Dims {
			size *= d
		}
		for lo := 0; lo < n; lo += m.batchSize {
			hi := min(lo+m.batchSize, n)
			b := batch.Batch{
				Images: make([]float32, (hi-lo)*size),
				Labels: make([]int32, hi-lo),
				Dims:   m.split.Dims,
			}
			for i, idx := range order[lo:hi] {
				copy(b.Images[i*size:(i+1)*size], m.split.Images[idx*size:(idx+1)*size])
				b.Labels[i] = m.split.Labels[idx]
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
