package corpus

import (
	"context"

	"github.com/ajitpratap0/fastir/pkg/metrics"
)

// SliceStream streams units held in memory. It is mostly useful for tests
// and small local corpora.
type SliceStream struct {
	units [][]byte
	pos   int
	state lifecycle
}

// NewSliceStream creates a stream over units. The slice is not copied.
func NewSliceStream(units ...[]byte) *SliceStream {
	return &SliceStream{units: units}
}

// Open positions the stream at the first unit.
func (s *SliceStream) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.state.open()
}

// Next returns the next unit.
func (s *SliceStream) Next(ctx context.Context) (Unit, error) {
	if err := s.state.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.units) {
		return nil, s.state.finish()
	}

	unit := s.units[s.pos]
	s.pos++

	metrics.UnitsRead.WithLabelValues("memory").Inc()
	metrics.UnitBytes.Observe(float64(len(unit)))
	return unit, nil
}

// Close releases the remaining units.
func (s *SliceStream) Close() error {
	if s.state.close() {
		s.units = nil
	}
	return nil
}

var _ Stream = (*SliceStream)(nil)
