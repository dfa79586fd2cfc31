package principal

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"coffer/internal/model"
)

// Directory is the slice of the store the resolver needs.
type Directory interface {
	GetUserItemByUserID(ctx context.Context, repositoryID, userID string) (*model.UserItem, error)
	GetGroupItemByGroupID(ctx context.Context, repositoryID, groupID string) (*model.GroupItem, error)
	GetGroupItems(ctx context.Context, repositoryID string) ([]*model.GroupItem, error)
}

// Resolver answers principal questions: which runtime ids the on-disk
// system aliases map to, and which groups a user transitively belongs to.
type Resolver struct {
	dir         Directory
	anonymousID string
	anyoneID    string
}

func NewResolver(dir Directory, anonymousID, anyoneID string) *Resolver {
	return &Resolver{dir: dir, anonymousID: anonymousID, anyoneID: anyoneID}
}

// AnonymousID is the configured runtime id for the anonymous principal.
func (r *Resolver) AnonymousID() string { return r.anonymousID }

// AnyoneID is the configured runtime id for the everyone group.
func (r *Resolver) AnyoneID() string { return r.anyoneID }

// TranslateID maps the on-disk system aliases to their configured runtime
// ids. Ordinary principal ids pass through unchanged.
func (r *Resolver) TranslateID(principalID string) string {
	switch principalID {
	case model.PrincipalAnonymousOnDisk:
		return r.anonymousID
	case model.PrincipalAnyoneOnDisk:
		return r.anyoneID
	default:
		return principalID
	}
}

// TranslateACL rewrites system aliases in every local ace, in place.
func (r *Resolver) TranslateACL(acl *model.ACL) {
	if acl == nil {
		return
	}
	for i := range acl.LocalAces {
		acl.LocalAces[i].PrincipalID = r.TranslateID(acl.LocalAces[i].PrincipalID)
	}
}

// BelongingGroupIDs returns every group id the user is a member of, directly
// or through nested groups, plus the everyone group. The anonymous principal
// belongs to nothing. Membership cycles are tolerated; each group is visited
// once.
func (r *Resolver) BelongingGroupIDs(ctx context.Context, repositoryID, userID string) ([]string, error) {
	if userID == "" || userID == r.anonymousID {
		return nil, nil
	}

	groups, err := r.dir.GetGroupItems(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	// memberOf[g] = groups that contain group g as a member.
	memberOf := make(map[string][]string)
	var direct []string
	for _, g := range groups {
		for _, u := range g.Users {
			if u == userID {
				direct = append(direct, g.GroupID)
				break
			}
		}
		for _, child := range g.Groups {
			memberOf[child] = append(memberOf[child], g.GroupID)
		}
	}

	visited := make(map[string]bool)
	queue := direct
	for len(queue) > 0 {
		groupID := queue[0]
		queue = queue[1:]
		if visited[groupID] {
			continue
		}
		visited[groupID] = true
		queue = append(queue, memberOf[groupID]...)
	}

	result := make([]string, 0, len(visited)+1)
	for groupID := range visited {
		result = append(result, groupID)
	}
	result = append(result, r.anyoneID)
	return result, nil
}

// Authenticate checks a user's secret against the stored bcrypt hash.
// Unknown users and wrong secrets both come back as a nil user.
func (r *Resolver) Authenticate(ctx context.Context, repositoryID, userID, secret string) (*model.UserItem, error) {
	user, err := r.dir.GetUserItemByUserID(ctx, repositoryID, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)); err != nil {
		log.Printf("principal: failed authentication for %s", userID)
		return nil, nil
	}
	return user, nil
}

// HashSecret derives the stored bcrypt hash for a user secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}
