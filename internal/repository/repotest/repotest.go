// Package repotest builds Maven repository fixtures for tests.
package repotest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"depweaver/internal/coordinate"
)

// Repo is a directory in Maven layout.
type Repo struct {
	t   testing.TB
	Dir string
}

// New creates an empty repository under a test temp dir.
func New(t testing.TB) *Repo {
	t.Helper()
	return &Repo{t: t, Dir: t.TempDir()}
}

// Dep is a POM dependency.
type Dep struct {
	Coordinate string
	Scope      string
	Optional   bool
	// NoVersion omits <version>, leaving it to dependencyManagement.
	NoVersion bool
}

// POMOptions extends a generated POM.
type POMOptions struct {
	Parent        string
	Managed       []Dep
	Imports       []string
	Properties    map[string]string
	GradleMarker  bool
	SkipChecksums bool
}

// AddPOM publishes a POM for coord declaring deps.
func (r *Repo) AddPOM(coord string, deps []Dep, opts POMOptions) {
	r.t.Helper()
	c := coordinate.MustParse(coord)
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<project xmlns=\"http://maven.apache.org/POM/4.0.0\">\n")
	if opts.GradleMarker {
		b.WriteString("  <!-- do_not_remove: published-with-gradle-metadata -->\n")
	}
	if opts.Parent != "" {
		p := coordinate.MustParse(opts.Parent)
		fmt.Fprintf(&b, "  <parent><groupId>%s</groupId><artifactId>%s</artifactId><version>%s</version></parent>\n",
			p.Group, p.Artifact, p.Version)
	}
	fmt.Fprintf(&b, "  <groupId>%s</groupId>\n  <artifactId>%s</artifactId>\n  <version>%s</version>\n", c.Group, c.Artifact, c.Version)
	if len(opts.Properties) > 0 {
		b.WriteString("  <properties>\n")
		for k, v := range opts.Properties {
			fmt.Fprintf(&b, "    <%s>%s</%s>\n", k, v, k)
		}
		b.WriteString("  </properties>\n")
	}
	if len(opts.Managed) > 0 || len(opts.Imports) > 0 {
		b.WriteString("  <dependencyManagement><dependencies>\n")
		for _, d := range opts.Managed {
			writeDep(&b, d)
		}
		for _, imp := range opts.Imports {
			writeDep(&b, Dep{Coordinate: imp, Scope: "import"})
		}
		b.WriteString("  </dependencies></dependencyManagement>\n")
	}
	if len(deps) > 0 {
		b.WriteString("  <dependencies>\n")
		for _, d := range deps {
			writeDep(&b, d)
		}
		b.WriteString("  </dependencies>\n")
	}
	b.WriteString("</project>\n")
	r.write(c.Path("pom"), []byte(b.String()), !opts.SkipChecksums)
}

func writeDep(b *strings.Builder, d Dep) {
	parts := strings.Split(d.Coordinate, ":")
	b.WriteString("    <dependency>")
	fmt.Fprintf(b, "<groupId>%s</groupId><artifactId>%s</artifactId>", parts[0], parts[1])
	if len(parts) > 2 && !d.NoVersion {
		fmt.Fprintf(b, "<version>%s</version>", parts[2])
	}
	if d.Scope != "" {
		fmt.Fprintf(b, "<scope>%s</scope>", d.Scope)
	}
	if d.Optional {
		b.WriteString("<optional>true</optional>")
	}
	b.WriteString("</dependency>\n")
}

// AddModule publishes Gradle module metadata for coord.
func (r *Repo) AddModule(coord, content string) {
	r.t.Helper()
	c := coordinate.MustParse(coord)
	r.write(c.Path("module"), []byte(content), true)
}

// AddJar publishes a jar for coord with synthetic content.
func (r *Repo) AddJar(coord string) {
	r.t.Helper()
	c := coordinate.MustParse(coord)
	r.write(c.Path("jar"), []byte("jar:"+coord), true)
}

// AddFile publishes arbitrary content at relPath.
func (r *Repo) AddFile(relPath string, data []byte, checksums bool) {
	r.t.Helper()
	r.write(relPath, data, checksums)
}

// AddLibrary publishes a POM and a jar.
func (r *Repo) AddLibrary(coord string, deps ...Dep) {
	r.t.Helper()
	r.AddPOM(coord, deps, POMOptions{})
	r.AddJar(coord)
}

// Checksum is the sha256 hex of data, as written into fixtures.
func Checksum(data []byte) string {
	s := sha256.Sum256(data)
	return hex.EncodeToString(s[:])
}

func (r *Repo) write(relPath string, data []byte, checksums bool) {
	r.t.Helper()
	p := filepath.Join(r.Dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		r.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		r.t.Fatalf("write %s: %v", relPath, err)
	}
	if !checksums {
		return
	}
	s1 := sha1.Sum(data)
	// sha1 files from some publishers carry the file name after the digest.
	sha1Line := hex.EncodeToString(s1[:]) + "  " + path.Base(relPath) + "\n"
	if err := os.WriteFile(p+".sha1", []byte(sha1Line), 0o644); err != nil {
		r.t.Fatalf("write sha1: %v", err)
	}
	if err := os.WriteFile(p+".sha256", []byte(Checksum(data)), 0o644); err != nil {
		r.t.Fatalf("write sha256: %v", err)
	}
}

// Server serves a Repo over TLS and counts requests per path.
type Server struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
	total    atomic.Int64
	// FailFirst makes the first N requests return 503.
	FailFirst atomic.Int64
}

// Serve starts an https server for the repository. The returned server's
// Client() trusts its certificate.
func (r *Repo) Serve() *Server {
	r.t.Helper()
	s := &Server{requests: make(map[string]int)}
	fs := http.FileServer(http.Dir(r.Dir))
	s.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.total.Add(1)
		s.mu.Lock()
		s.requests[req.URL.Path]++
		s.mu.Unlock()
		if s.FailFirst.Load() > 0 {
			s.FailFirst.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if strings.HasSuffix(req.URL.Path, "/") {
			http.NotFound(w, req)
			return
		}
		fs.ServeHTTP(w, req)
	}))
	r.t.Cleanup(s.Close)
	return s
}

// Requests returns how often path was requested.
func (s *Server) Requests(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[p]
}

// Total is the number of requests served.
func (s *Server) Total() int64 {
	return s.total.Load()
}
