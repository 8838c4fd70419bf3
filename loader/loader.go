// Package loader implements storage.KernelLoader against real compiled shared
// objects, via dlopen/dlsym. It is the one package in this module that reaches past
// cgo -- the compiled kernels are arbitrary C shared objects exporting a plain C
// "launcher" symbol, not Go plugins, so runtime/plugin doesn't apply here.
package loader

/*
#include <dlfcn.h>
#include <stdlib.h>

typedef void (*vengine_launcher_fn)(void **data_list);

static void vengine_call_launcher(void *fn, void **data_list) {
	((vengine_launcher_fn)fn)(data_list);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/bh-ve/vengine/storage"
)

// DL resolves shared objects via the platform dynamic linker.
type DL struct{}

// New returns a DL loader.
func New() *DL { return &DL{} }

// Load opens objAbspath with RTLD_NOW and resolves its "launcher" symbol, returning a
// storage.Launcher that marshals the Go-side []any into a C void* array understood by
// the generated trampoline (see specializer/templates/kernel.c.tmpl).
func (l *DL) Load(objAbspath string) (storage.Launcher, error) {
	cpath := C.CString(objAbspath)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW)
	if handle == nil {
		return nil, errors.Errorf("loader: dlopen %s: %s", objAbspath, C.GoString(C.dlerror()))
	}

	csym := C.CString("launcher")
	defer C.free(unsafe.Pointer(csym))
	sym := C.dlsym(handle, csym)
	if sym == nil {
		return nil, errors.Errorf("loader: dlsym \"launcher\" in %s: %s", objAbspath, C.GoString(C.dlerror()))
	}

	return func(dataList []any) error {
		ptrs := make([]unsafe.Pointer, len(dataList))
		for i, d := range dataList {
			p, ok := d.(unsafe.Pointer)
			if !ok {
				return errors.Errorf("loader: data_list[%d] is not an unsafe.Pointer buffer handle", i)
			}
			ptrs[i] = p
		}
		var argv *unsafe.Pointer
		if len(ptrs) > 0 {
			argv = &ptrs[0]
		}
		C.vengine_call_launcher(sym, (*unsafe.Pointer)(unsafe.Pointer(argv)))
		return nil
	}, nil
}
