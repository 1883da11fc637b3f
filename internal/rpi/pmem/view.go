package pmem

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Slice is a memory mapped region viewable as []byte, []uint32 or a struct
// of registers.
type Slice []byte

// Bytes implements Mem.
func (s *Slice) Bytes() []byte {
	return *s
}

// Uint32 reinterprets the mapping as a slice of 32-bit registers.
func (s *Slice) Uint32() []uint32 {
	header := *(*reflect.SliceHeader)(unsafe.Pointer(s))
	header.Len /= 4
	header.Cap /= 4
	return *(*[]uint32)(unsafe.Pointer(&header))
}

// Struct binds pp, a pointer to a nil pointer to a struct, onto the mapped
// memory: reads and writes through the resulting pointer become raw loads
// and stores against the mapped registers.
//
// pp must be a pointer to a nil pointer to a struct whose size fits within
// the mapping.
func (s *Slice) Struct(pp reflect.Value) error {
	if k := pp.Kind(); k != reflect.Ptr {
		return fmt.Errorf("pmem: require Ptr, got %s", k)
	}
	if pp.IsNil() {
		return errors.New("pmem: require Ptr to be valid")
	}
	p := pp.Elem()
	if k := p.Kind(); k != reflect.Ptr {
		return fmt.Errorf("pmem: require Ptr to Ptr, got %s", k)
	}
	if !p.IsNil() {
		return errors.New("pmem: require Ptr to Ptr to be nil")
	}
	t := p.Type().Elem()
	if k := t.Kind(); k != reflect.Struct {
		return fmt.Errorf("pmem: require Ptr to Ptr to a struct, got Ptr to Ptr to %s", k)
	}
	if size := int(t.Size()); size > len(*s) {
		return fmt.Errorf("pmem: can't map struct %s (size %d) on [%d]byte", t, size, len(*s))
	}
	dest := unsafe.Pointer(((*reflect.SliceHeader)(unsafe.Pointer(s))).Data)
	p.Set(reflect.NewAt(t, dest))
	return nil
}

// View is a view of physical memory mapped into user space, usually CPU
// peripheral registers.
//
// It is not required to call Close(): the kernel reclaims the mapping on
// process exit.
type View struct {
	Slice
	phys uint64
	orig []uint8 // backing mapping, rounded to the enclosing 4Kb page(s)
}

// PhysAddr implements Mem.
func (v *View) PhysAddr() uint64 {
	return v.phys
}

// Close unmaps the memory from the user address space.
func (v *View) Close() error {
	if v.orig == nil {
		return nil
	}
	return unix.Munmap(v.orig)
}

var (
	mu         sync.Mutex
	gpioMemErr error
	gpioMem    *View
	devMem     *os.File
	devMemErr  error
)

// MapGPIO maps the CPU's GPIO registers via /dev/gpiomem, which requires no
// special privileges on a stock Raspbian kernel.
func MapGPIO() (*View, error) {
	mu.Lock()
	defer mu.Unlock()
	if gpioMem != nil || gpioMemErr != nil {
		return gpioMem, gpioMemErr
	}
	f, err := os.OpenFile("/dev/gpiomem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		gpioMemErr = wrapf("opening /dev/gpiomem: %v", err)
		return nil, gpioMemErr
	}
	defer f.Close()
	b, err := unix.Mmap(int(f.Fd()), 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		gpioMemErr = wrapf("mmap /dev/gpiomem: %v", err)
		return nil, gpioMemErr
	}
	gpioMem = &View{Slice: b, orig: b}
	return gpioMem, nil
}

// Map returns a memory mapped view of an arbitrary physical address range
// via /dev/mem, rounded up to a 4Kb window. This requires root and is only
// suitable for peripherals not reachable through a narrower device node
// (clock manager, PCM, DMA controller).
func Map(base uint64, size int) (*View, error) {
	if size <= 0 {
		return nil, wrapf("size must be positive")
	}
	f, err := openDevMem()
	if err != nil {
		return nil, err
	}
	offset := int(base & 0xFFF)
	mapSize := (size + offset + 0xFFF) &^ 0xFFF
	b, err := unix.Mmap(int(f.Fd()), int64(base&^0xFFF), mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, wrapf("mmap at 0x%x: %v", base, err)
	}
	return &View{Slice: b[offset : offset+size], phys: base, orig: b}, nil
}

func openDevMem() (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()
	if devMem == nil && devMemErr == nil {
		devMem, devMemErr = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
		if devMemErr != nil {
			devMemErr = wrapf("opening /dev/mem: %v", devMemErr)
		}
	}
	return devMem, devMemErr
}

// MapAsPOD maps size bytes of physical memory at base and binds pp onto it
// in one step. size is derived from the pointed-to struct's size.
func MapAsPOD(base uint64, pp interface{}) error {
	v := reflect.ValueOf(pp)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errors.New("pmem: require non-nil Ptr")
	}
	elem := v.Elem()
	if elem.Kind() != reflect.Ptr || !elem.IsNil() {
		return errors.New("pmem: require Ptr to nil Ptr")
	}
	size := int(elem.Type().Elem().Size())
	m, err := Map(base, size)
	if err != nil {
		return err
	}
	return m.Struct(v)
}
