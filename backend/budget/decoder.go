package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Decoder makes a job's output unit-addressable so a prefix of exactly n
// units can be revealed.
type Decoder interface {
	Encode(text string) []int
	Decode(units []int) string
}

var loaderOnce sync.Once

// TiktokenDecoder tokenizes with a BPE encoding bundled in the binary, so no
// network fetch happens at run time.
type TiktokenDecoder struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenDecoder(encoding string) (*TiktokenDecoder, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %q: %w", encoding, err)
	}
	return &TiktokenDecoder{encoding: enc}, nil
}

func (d *TiktokenDecoder) Encode(text string) []int {
	return d.encoding.Encode(text, nil, nil)
}

func (d *TiktokenDecoder) Decode(units []int) string {
	return d.encoding.Decode(units)
}

var _ Decoder = (*TiktokenDecoder)(nil)
