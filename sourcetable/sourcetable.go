// Package sourcetable implements the externally-visible metadata
// catalog a source registers itself in and retracts itself from on
// teardown (§6, "sourcetable interface") — opaque to the core, which
// only ever calls AddSource/RemoveSource.
package sourcetable

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ntripcaster/caster/omap"
)

// Entry is one mountpoint's published metadata line, in the shape an
// NTRIP client's GET / sourcetable request expects (RTCM's "STR;"
// record, simplified to the fields the core actually knows about).
type Entry struct {
	Mount   string
	Format  string
	Carrier string
	Network string
	Country string
	Bitrate int
}

func (e Entry) render() string {
	return fmt.Sprintf("STR;%s;%s;%s;%s;%s;%d", e.Mount, e.Format, e.Carrier, e.Network, e.Country, e.Bitrate)
}

// FileCatalog is the default Catalog: an in-memory ordered map of
// mount -> Entry, rendered on demand as the NTRIP sourcetable text
// format. It mirrors sourcetable_add_source/sourcetable_remove_source
// without depending on any particular wire server, which stays out of
// scope per the core's "interfaces only" boundary.
type FileCatalog struct {
	entries *omap.Tree[string, Entry]
	meta    func(mount string) Entry
}

// NewFileCatalog creates an empty catalog. metaFn supplies the
// descriptive fields (format, carrier, ...) for a mount at
// registration time; a nil metaFn falls back to a bare STR; line
// carrying only the mountpoint.
func NewFileCatalog(metaFn func(mount string) Entry) *FileCatalog {
	if metaFn == nil {
		metaFn = func(mount string) Entry { return Entry{Mount: mount} }
	}
	return &FileCatalog{
		entries: omap.New[string, Entry](func(a, b string) bool { return a < b }),
		meta:    metaFn,
	}
}

// AddSource implements source.Catalog: publishes rawMount's metadata.
func (c *FileCatalog) AddSource(rawMount string) {
	c.entries.Insert(rawMount, c.meta(rawMount))
}

// RemoveSource implements source.Catalog: retracts rawMount's metadata.
func (c *FileCatalog) RemoveSource(rawMount string) {
	c.entries.Delete(rawMount)
}

// Render produces the full NTRIP sourcetable body: one STR; line per
// registered mount, in mountpoint order, terminated by "ENDSOURCETABLE".
func (c *FileCatalog) Render() string {
	var b strings.Builder
	c.entries.Range(func(_ string, e Entry) bool {
		b.WriteString(e.render())
		b.WriteString("\r\n")
		return true
	})
	b.WriteString("ENDSOURCETABLE\r\n")
	return b.String()
}

// Len reports the number of currently-published mounts.
func (c *FileCatalog) Len() int { return c.entries.Len() }

// LoadSeed (re)populates the catalog from a flat sourcetable seed file,
// one entry per line: "<mount> <format> <carrier> <network> <country>
// <bitrate>" (blank lines and "#"-prefixed comments skipped). This is
// how an operator pre-publishes sourcetable listings for mounts that
// have not yet connected, reloaded periodically by the maintenance
// scheduler rather than read once at startup. An entry later
// overwritten by AddSource (a real source connecting) takes
// precedence; LoadSeed never removes an entry already published by a
// live source.
func (c *FileCatalog) LoadSeed(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		e := Entry{Mount: fields[0]}
		if len(fields) > 1 {
			e.Format = fields[1]
		}
		if len(fields) > 2 {
			e.Carrier = fields[2]
		}
		if len(fields) > 3 {
			e.Network = fields[3]
		}
		if len(fields) > 4 {
			e.Country = fields[4]
		}
		if len(fields) > 5 {
			if n, err := strconv.Atoi(fields[5]); err == nil {
				e.Bitrate = n
			}
		}
		if _, exists := c.entries.Get(e.Mount); !exists {
			c.entries.Insert(e.Mount, e)
		}
	}
	return scanner.Err()
}
