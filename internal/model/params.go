package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"
)

// Parameter file layout, little-endian:
//
//	magic "DFGP" | version u16 | dtype u8 | props len u32 | props JSON |
//	count u32 | { name len u16 | name | rows u32 | cols u32 | values }*
const (
	paramsMagic   = "DFGP"
	paramsVersion = 1
	paramsExt     = ".params"
	// maxPropsLen bounds the properties block read from a file header.
	maxPropsLen = 1 << 20
)

const (
	encFloat32 uint8 = iota
	encFloat16
)

var (
	// ErrParamsNotFound is returned when no parameter file matches the model.
	ErrParamsNotFound = errors.New("model: parameter file not found")
	// ErrIncompatible is returned when a parameter file does not fit the block.
	ErrIncompatible = errors.New("model: incompatible parameter file")
)

type saveOptions struct {
	half bool
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

// WithHalfPrecision stores parameters as IEEE 754 half floats.
func WithHalfPrecision(half bool) SaveOption {
	return func(o *saveOptions) { o.half = half }
}

// ParamsFileName is the file Save writes for a model name and epoch.
func ParamsFileName(name string, epoch int) string {
	return fmt.Sprintf("%s-%04d%s", name, epoch, paramsExt)
}

// Save writes the parameters and properties to dir/<name>-<epoch>.params,
// where epoch is the Epoch property. name replaces the model name.
func (m *Model) Save(dir, name string, opts ...SaveOption) error {
	if err := m.check(); err != nil {
		return err
	}
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	if name != "" {
		m.name = name
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create model dir")
	}
	path := filepath.Join(dir, ParamsFileName(m.name, m.Epoch()))
	tmp, err := os.CreateTemp(dir, ".params-*")
	if err != nil {
		return errors.Wrap(err, "create parameter file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := m.encode(w, o); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "save parameters")
}

func (m *Model) encode(w io.Writer, o saveOptions) error {
	props, err := json.Marshal(m.properties)
	if err != nil {
		return err
	}
	enc := encFloat32
	if o.half {
		enc = encFloat16
	}
	params := m.block.Parameters()
	header := []any{
		[]byte(paramsMagic), uint16(paramsVersion), enc,
		uint32(len(props)), props, uint32(len(params)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, p := range params {
		rows, cols := p.Value.Dims()
		for _, v := range []any{uint16(len(p.Name)), []byte(p.Name), uint32(rows), uint32(cols)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		for i := 0; i < rows; i++ {
			for _, v := range p.Value.RawRowView(i) {
				var err error
				if o.half {
					err = binary.Write(w, binary.LittleEndian, float16.Fromfloat32(float32(v)).Bits())
				} else {
					err = binary.Write(w, binary.LittleEndian, math.Float32bits(float32(v)))
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type loadOptions struct {
	epoch int
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithEpoch loads a specific epoch instead of the latest one.
func WithEpoch(epoch int) LoadOption {
	return func(o *loadOptions) { o.epoch = epoch }
}

// Load reads parameters into the block. path is either a parameter file or a
// directory, in which case the latest <name>-NNNN.params (or <name>.params)
// is used.
func (m *Model) Load(path string, opts ...LoadOption) error {
	if err := m.check(); err != nil {
		return err
	}
	o := loadOptions{epoch: -1}
	for _, opt := range opts {
		opt(&o)
	}
	file, err := m.resolveParams(path, o.epoch)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return errors.Wrap(err, "open parameter file")
	}
	defer f.Close()
	if err := m.decode(bufio.NewReader(f)); err != nil {
		return errors.Wrapf(err, "load %s", file)
	}
	return nil
}

func (m *Model) resolveParams(path string, epoch int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(ErrParamsNotFound, "%s: %v", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	if epoch >= 0 {
		file := filepath.Join(path, ParamsFileName(m.name, epoch))
		if _, err := os.Stat(file); err != nil {
			return "", errors.Wrapf(ErrParamsNotFound, "%s", file)
		}
		return file, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrap(err, "list model dir")
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(m.name) + `-(\d{4,})` + regexp.QuoteMeta(paramsExt) + `$`)
	best, bestEpoch := "", -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == m.name+paramsExt && bestEpoch < 0 {
			best = e.Name()
			continue
		}
		match := re.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err == nil && n > bestEpoch {
			best, bestEpoch = e.Name(), n
		}
	}
	if best == "" {
		return "", errors.Wrapf(ErrParamsNotFound, "no %s parameters in %s", m.name, path)
	}
	return filepath.Join(path, best), nil
}

func (m *Model) decode(r io.Reader) error {
	magic := make([]byte, len(paramsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != paramsMagic {
		return errors.Wrapf(ErrIncompatible, "bad magic %q", magic)
	}
	var (
		version  uint16
		enc      uint8
		propsLen uint32
	)
	for _, v := range []any{&version, &enc, &propsLen} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if version != paramsVersion {
		return errors.Wrapf(ErrIncompatible, "version %d", version)
	}
	if enc != encFloat32 && enc != encFloat16 {
		return errors.Wrapf(ErrIncompatible, "encoding %d", enc)
	}
	if propsLen > maxPropsLen {
		return errors.Wrapf(ErrIncompatible, "properties length %d exceeds %d", propsLen, maxPropsLen)
	}
	propsRaw := make([]byte, propsLen)
	if _, err := io.ReadFull(r, propsRaw); err != nil {
		return err
	}
	props := map[string]string{}
	if err := json.Unmarshal(propsRaw, &props); err != nil {
		return errors.Wrap(err, "properties")
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	params := m.block.Parameters()
	if int(count) != len(params) {
		return errors.Wrapf(ErrIncompatible, "%d parameters in file, block has %d", count, len(params))
	}
	values := make([]*mat.Dense, len(params))
	for i, p := range params {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return err
		}
		var rows, cols uint32
		if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
			return err
		}
		wantRows, wantCols := p.Value.Dims()
		if string(name) != p.Name || int(rows) != wantRows || int(cols) != wantCols {
			return errors.Wrapf(ErrIncompatible, "parameter %s (%d, %d), block expects %s (%d, %d)",
				name, rows, cols, p.Name, wantRows, wantCols)
		}
		data := make([]float64, rows*cols)
		if enc == encFloat16 {
			raw := make([]uint16, len(data))
			if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
				return err
			}
			for j, b := range raw {
				data[j] = float64(float16.Frombits(b).Float32())
			}
		} else {
			raw := make([]uint32, len(data))
			if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
				return err
			}
			for j, b := range raw {
				data[j] = float64(math.Float32frombits(b))
			}
		}
		values[i] = mat.NewDense(int(rows), int(cols), data)
	}
	// only touch the block once the whole file decoded
	for i, p := range params {
		p.Value.Copy(values[i])
		p.ZeroGrad()
	}
	maps.Copy(m.properties, props)
	return nil
}
