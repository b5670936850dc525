package service

import (
	"strconv"
	"strings"

	"lms-bridge/internal/catalog/domain"
)

// Slugify lowercases s, replaces every run of characters outside [a-z0-9] with a single dash and
// trims dashes at both ends.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CourseSlugBase derives the base slug for a course; an empty result falls back to course-<id>.
func CourseSlugBase(shortName string, externalID int64) string {
	if s := Slugify(shortName); s != "" {
		return s
	}
	return "course-" + strconv.FormatInt(externalID, 10)
}

// CategorySlugBase derives the base slug for a category from its idnumber when set, else its name.
func CategorySlugBase(idNumber, name string, externalID int64) string {
	if s := Slugify(idNumber); s != "" {
		return s
	}
	if s := Slugify(name); s != "" {
		return s
	}
	return "category-" + strconv.FormatInt(externalID, 10)
}

// hasBase reports whether slug is base itself or base followed by a numeric suffix.
func hasBase(slug, base string) bool {
	if slug == base {
		return true
	}
	rest, ok := strings.CutPrefix(slug, base+"-")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// slugPlanner assigns unique slugs within one sync run. It is seeded with every stored slug and
// then consulted once per source item in source order, so assignment is deterministic and sees
// both stored slugs and slugs handed out earlier in the run. Not safe for concurrent use.
type slugPlanner struct {
	owners map[string]int64 // slug -> external id
}

func newSlugPlanner() *slugPlanner {
	return &slugPlanner{owners: make(map[string]int64)}
}

// reserve records slug as owned by externalID.
func (p *slugPlanner) reserve(slug string, externalID int64) {
	p.owners[slug] = externalID
}

// assign returns the slug for externalID. current is the slug already stored for this item (or "").
// An item keeps its stored slug while it still derives from base. Otherwise base is used when free,
// else the first free base-N; the collision is returned in that case.
func (p *slugPlanner) assign(base string, externalID int64, current string) (string, *domain.SlugCollision) {
	if current != "" && hasBase(current, base) {
		if owner, ok := p.owners[current]; !ok || owner == externalID {
			p.owners[current] = externalID
			return current, nil
		}
	}
	owner, taken := p.owners[base]
	if !taken || owner == externalID {
		p.owners[base] = externalID
		return base, nil
	}
	for n := 1; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if o, ok := p.owners[candidate]; ok && o != externalID {
			continue
		}
		p.owners[candidate] = externalID
		return candidate, &domain.SlugCollision{
			ExternalID:    externalID,
			Base:          base,
			Assigned:      candidate,
			ConflictsWith: owner,
		}
	}
}
