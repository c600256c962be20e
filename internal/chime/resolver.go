package chime

import (
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// DefaultPreamble is the file played before every hourly file.
const DefaultPreamble = "時報.mp3"

// Resource is an immutable reference to an audio file.
type Resource struct {
	Name string
	Path string
}

// Resolver maps hours to files under a root directory.
// Resolution never fails; existence is checked at play time.
type Resolver struct {
	fs       afero.Fs
	root     string
	preamble string
}

// NewResolver returns a resolver over fs rooted at root.
// A nil fs means the OS filesystem; an empty preamble means DefaultPreamble.
func NewResolver(fs afero.Fs, root, preamble string) *Resolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if preamble == "" {
		preamble = DefaultPreamble
	}
	return &Resolver{fs: fs, root: root, preamble: preamble}
}

func (r *Resolver) Root() string { return r.root }

// RootExists reports whether the audio directory is present.
func (r *Resolver) RootExists() bool {
	ok, err := afero.DirExists(r.fs, r.root)
	return err == nil && ok
}

// ResolveHour maps hour h (0..23) to "{h}.wav". Out-of-range values wrap modulo 24.
func (r *Resolver) ResolveHour(hour int) Resource {
	h := ((hour % 24) + 24) % 24
	return r.resource(strconv.Itoa(h) + ".wav")
}

func (r *Resolver) Preamble() Resource { return r.resource(r.preamble) }

// Sequence is the hourly playlist: the preamble, then the file for hour.
func (r *Resolver) Sequence(hour int) []Resource {
	return []Resource{r.Preamble(), r.ResolveHour(hour)}
}

func (r *Resolver) resource(name string) Resource {
	return Resource{Name: name, Path: filepath.Join(r.root, name)}
}

func (r *Resolver) Exists(res Resource) bool {
	fi, err := r.fs.Stat(res.Path)
	return err == nil && !fi.IsDir()
}

func (r *Resolver) Open(res Resource) (io.ReadCloser, error) {
	return r.fs.Open(res.Path)
}
