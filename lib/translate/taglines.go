package translate

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	au "bbsgate/lib/asciiutils"
)

// Taglines picks sign-off lines for exported posts: one at random
// from the per-list tagline file when it exists, else a default
// origin line naming the system.
type Taglines struct {
	dir        string
	systemName string
	rng        *rand.Rand
}

func NewTaglines(dir, systemName string, rng *rand.Rand) *Taglines {
	return &Taglines{dir: dir, systemName: systemName, rng: rng}
}

func (t *Taglines) fileFor(list string) string {
	return filepath.Join(t.dir, strings.ToUpper(list)+".TAG")
}

// Pick returns the tagline for one outgoing post on list.
func (t *Taglines) Pick(list string) string {
	lines := t.load(list)
	if len(lines) == 0 {
		return fmt.Sprintf(" * Origin: %s", t.systemName)
	}
	return lines[t.rng.Intn(len(lines))]
}

func (t *Taglines) load(list string) (lines []string) {
	h, err := os.Open(t.fileFor(list))
	if err != nil {
		return nil
	}
	defer h.Close()

	sc := bufio.NewScanner(h)
	for sc.Scan() {
		if l := au.TrimWSString(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return
}
