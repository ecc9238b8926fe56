package cpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"

	"github.com/tinygraph/tinygraph/ml"
)

// decode widens tensor data to float32.
func decode(dtype ml.DType, bts []byte) ([]float32, error) {
	switch dtype {
	case ml.DTypeF32:
		f32s := make([]float32, len(bts)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[4*i:]))
		}
		return f32s, nil
	case ml.DTypeF16:
		f32s := make([]float32, len(bts)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[2*i:])).Float32()
		}
		return f32s, nil
	case ml.DTypeBF16:
		return bfloat16.DecodeFloat32(bts), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", dtype)
	}
}

func encodeF32(dst []byte, f32s []float32) {
	for i, f := range f32s {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(f))
	}
}

// minRowsPerTask keeps tiny products on the calling goroutine.
const minRowsPerTask = 16

// mulmat computes out[i3][i2][n][m] = sum_k a[i3/r3][i2/r2][m][k] * b[i3][i2][n][k]
// where r2 and r3 broadcast a over the outer dimensions of b. Rows of the
// output are split between goroutines; the call returns once all are done.
func (b *Backend) mulmat(ta, tb *ml.Tensor, a, bv []float32) []float32 {
	k, m := ta.Dim(0), ta.Dim(1)
	n, ne2, ne3 := tb.Dim(1), tb.Dim(2), tb.Dim(3)
	r2, r3 := ne2/ta.Dim(2), ne3/ta.Dim(3)

	out := make([]float32, m*n*ne2*ne3)
	rows := n * ne2 * ne3

	row := func(r int) {
		i2, i3 := (r/n)%ne2, r/(n*ne2)
		arow := ((i3/r3)*ta.Dim(2) + i2/r2) * m * k
		brow := r * k
		orow := r * m
		for j := range m {
			var sum float32
			aj := a[arow+j*k : arow+(j+1)*k]
			bj := bv[brow : brow+k]
			for x := range k {
				sum += aj[x] * bj[x]
			}
			out[orow+j] = sum
		}
	}

	tasks := min(b.threads, max(1, rows/minRowsPerTask))
	if tasks <= 1 {
		for r := range rows {
			row(r)
		}
		return out
	}

	var g errgroup.Group
	chunk := (rows + tasks - 1) / tasks
	for start := 0; start < rows; start += chunk {
		end := min(start+chunk, rows)
		g.Go(func() error {
			for r := start; r < end; r++ {
				row(r)
			}
			return nil
		})
	}
	g.Wait()

	return out
}

// add computes ta + tb, repeating tb along any dimension where it is smaller.
func add(ta, tb *ml.Tensor, a, bv []float32) []float32 {
	out := make([]float32, len(a))
	ne0, ne1, ne2 := ta.Dim(0), ta.Dim(1), ta.Dim(2)
	be0, be1, be2, be3 := tb.Dim(0), tb.Dim(1), tb.Dim(2), tb.Dim(3)

	for i := range out {
		i0 := i % ne0
		i1 := (i / ne0) % ne1
		i2 := (i / (ne0 * ne1)) % ne2
		i3 := i / (ne0 * ne1 * ne2)

		j := (((i3%be3)*be2+i2%be2)*be1+i1%be1)*be0 + i0%be0
		out[i] = a[i] + bv[j]
	}

	return out
}

func sigmoid(x []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return out
}
