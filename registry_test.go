package hermetic

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAppendOnly(t *testing.T) {
	assert := assert.New(t)

	var reg Registry
	assert.Equal(0, reg.Len())

	reg.Register(&PrivateLibrary{path: "/a.so"})
	reg.Register(&PrivateLibrary{path: "/b.so"})
	reg.Register(nil)

	assert.Equal(2, reg.Len())
	assert.Equal([]string{"/a.so", "/b.so"}, reg.Paths())
}

func TestRegistryConcurrentRegister(t *testing.T) {
	var reg Registry
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Register(&PrivateLibrary{path: fmt.Sprintf("/lib-%d.so", i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, reg.Len())
}

func TestDefaultRegistryIsStable(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}
