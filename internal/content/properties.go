package content

import (
	"context"
	"log"

	"coffer/internal/model"
	"coffer/internal/types"
)

// effectivePropertyDefs merges the property tables of the primary type and
// every secondary type carried by the object. An unknown secondary type is
// logged and skipped, not an error.
func (s *Service) effectivePropertyDefs(ctx context.Context, repositoryID string, c model.Content) (map[string]types.PropertyDefinition, error) {
	base := c.Base()
	def, err := s.registry.GetTypeDefinition(ctx, repositoryID, base.ObjectType)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]types.PropertyDefinition, len(def.Properties))
	for id, pd := range def.Properties {
		defs[id] = pd
	}
	for _, secondaryID := range base.SecondaryIDs {
		secondary, err := s.registry.GetTypeDefinition(ctx, repositoryID, secondaryID)
		if err != nil {
			log.Printf("content: unknown secondary type %s on %s: %v", secondaryID, base.ID, err)
			continue
		}
		for id, pd := range secondary.Properties {
			defs[id] = pd
		}
	}
	return defs, nil
}

// applyProperties writes each updatable property onto the object. Read-only
// definitions are silently skipped; when-checked-out definitions apply only
// to a private working copy. Returns whether anything changed.
func applyProperties(defs map[string]types.PropertyDefinition, c model.Content, props []model.Property) bool {
	base := c.Base()
	doc, isDoc := c.(*model.Document)

	changed := false
	for _, p := range props {
		def, ok := defs[p.Key]
		if !ok {
			log.Printf("content: no definition for property %s on %s, skipped", p.Key, base.ID)
			continue
		}
		switch def.Updatability {
		case types.ReadOnly, types.OnCreate:
			continue
		case types.WhenCheckedOut:
			if !isDoc || !doc.PrivateWorkingCopy {
				continue
			}
		}

		switch p.Key {
		case types.PropName:
			if name := asString(p.Value); name != "" && name != base.Name {
				base.Name = name
				changed = true
			}
		case types.PropDescription:
			if desc := asString(p.Value); desc != base.Description {
				base.Description = desc
				changed = true
			}
		case types.PropSecondaryTypeIDs:
			// Full replacement, including replacement with an empty list.
			ids := asStringSlice(p.Value)
			base.SecondaryIDs = ids
			base.Aspects = pruneAspects(base.Aspects, ids)
			changed = true
		case types.PropCheckinComment:
			if isDoc {
				doc.CheckinComment = asString(p.Value)
				changed = true
			}
		default:
			setAspectProperty(base, p)
			changed = true
		}
	}
	return changed
}

// pruneAspects drops property bags whose secondary type is no longer
// applied.
func pruneAspects(aspects []model.Aspect, keep []string) []model.Aspect {
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	out := aspects[:0]
	for _, aspect := range aspects {
		if kept[aspect.Name] {
			out = append(out, aspect)
		}
	}
	return out
}

// setAspectProperty upserts a custom property into the object's property
// bags, creating a bag named after the property's first applicable aspect
// when none holds it yet.
func setAspectProperty(base *model.NodeBase, p model.Property) {
	for ai := range base.Aspects {
		for pi := range base.Aspects[ai].Properties {
			if base.Aspects[ai].Properties[pi].Key == p.Key {
				base.Aspects[ai].Properties[pi].Value = p.Value
				return
			}
		}
	}
	if len(base.SecondaryIDs) > 0 {
		name := base.SecondaryIDs[0]
		for ai := range base.Aspects {
			if base.Aspects[ai].Name == name {
				base.Aspects[ai].Properties = append(base.Aspects[ai].Properties, p)
				return
			}
		}
		base.Aspects = append(base.Aspects, model.Aspect{Name: name, Properties: []model.Property{p}})
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return ""
	}
}

func asStringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return []string{}
	default:
		return []string{}
	}
}
