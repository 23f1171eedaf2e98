// Package resolve merges duplicate entities across meaningful units and
// rewrites relationships onto the surviving canonical entities.
package resolve

import (
	"sort"
	"strings"

	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// Resolution is the deduplicated entity set for one episode plus the
// relationships rewritten to reference canonical entity ids.
type Resolution struct {
	Entities      []common.Entity
	Relationships []common.Relationship
}

// Resolve merges entities whose values are equal after normalization
// (case and whitespace insensitive). Distinct values never merge, so
// "Sarah" and "Sarah's work" stay separate entities no matter how similar.
// Relationships that reference an entity no extraction produced are dropped.
func Resolve(episodeID string, extractions []common.UnitExtraction) *Resolution {
	type group struct {
		entity common.Entity
		order  int
	}

	groups := make(map[string]*group)
	order := 0
	for _, extraction := range extractions {
		for _, entity := range extraction.Entities {
			key := normalizeValue(entity.Value)
			if key == "" {
				continue
			}
			existing, ok := groups[key]
			if !ok {
				groups[key] = &group{entity: entity, order: order}
				order++
				continue
			}
			existing.entity = mergeEntities(existing.entity, entity)
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	resolution := &Resolution{Entities: make([]common.Entity, 0, len(ordered))}
	idByValue := make(map[string]string, len(ordered))
	for _, g := range ordered {
		resolution.Entities = append(resolution.Entities, g.entity)
		idByValue[normalizeValue(g.entity.Value)] = g.entity.ID
	}

	resolution.Relationships = resolveRelationships(episodeID, extractions, idByValue)

	total := 0
	for _, extraction := range extractions {
		total += len(extraction.Entities)
	}
	if merged := total - len(resolution.Entities); merged > 0 {
		logger.Debug("entity resolution merged duplicates",
			"episode", episodeID, "raw", total, "canonical", len(resolution.Entities))
	}
	return resolution
}

// mergeEntities folds a duplicate into the canonical entity. The canonical
// keeps its id; type, description, confidence and provenance are combined.
func mergeEntities(canonical, duplicate common.Entity) common.Entity {
	canonical.Type = moreSpecificType(canonical.Type, duplicate.Type)
	if duplicate.Confidence > canonical.Confidence {
		canonical.Confidence = duplicate.Confidence
	}
	canonical.Description = combineDescriptions(canonical.Description, duplicate.Description)
	canonical.SourceUnitIDs = unionStrings(canonical.SourceUnitIDs, duplicate.SourceUnitIDs)
	return canonical
}

// moreSpecificType picks between two open type strings for the same entity.
// Longer wins on the assumption that "RESEARCHER" says more than "PERSON";
// UNKNOWN always loses.
func moreSpecificType(a, b string) string {
	if a == b {
		return a
	}
	if a == "UNKNOWN" || a == "" {
		return b
	}
	if b == "UNKNOWN" || b == "" {
		return a
	}
	if len(b) > len(a) {
		return b
	}
	return a
}

func combineDescriptions(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" || strings.EqualFold(a, b) || strings.Contains(strings.ToLower(a), strings.ToLower(b)) {
		return a
	}
	return a + "; " + b
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// resolveRelationships rewrites raw value-based relationships onto canonical
// entity ids and collapses duplicates of the same (source, target, type).
func resolveRelationships(episodeID string, extractions []common.UnitExtraction, idByValue map[string]string) []common.Relationship {
	type relKey struct {
		source, target, relType string
	}
	seen := make(map[relKey]int)
	var out []common.Relationship
	dropped := 0

	for _, extraction := range extractions {
		for _, raw := range extraction.Relationships {
			sourceID, sourceOK := idByValue[normalizeValue(raw.SourceValue)]
			targetID, targetOK := idByValue[normalizeValue(raw.TargetValue)]
			if !sourceOK || !targetOK {
				dropped++
				continue
			}
			if sourceID == targetID {
				dropped++
				continue
			}

			key := relKey{sourceID, targetID, raw.Type}
			if i, ok := seen[key]; ok {
				if desc := strings.TrimSpace(raw.Description); desc != "" {
					existing, _ := out[i].Properties["description"].(string)
					out[i].Properties["description"] = combineDescriptions(existing, desc)
				}
				continue
			}

			rel := common.Relationship{
				SourceEntityID: sourceID,
				TargetEntityID: targetID,
				Type:           raw.Type,
				Properties:     map[string]any{},
			}
			if desc := strings.TrimSpace(raw.Description); desc != "" {
				rel.Properties["description"] = desc
			}
			seen[key] = len(out)
			out = append(out, rel)
		}
	}

	if dropped > 0 {
		logger.Warn("dropped relationships referencing unknown or self entities",
			"episode", episodeID, "dropped", dropped)
	}
	return out
}

// normalizeValue folds case and whitespace so surface variants of the same
// value compare equal.
func normalizeValue(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
