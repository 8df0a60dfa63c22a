package groups

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opDirectoryNew      = "groups.directory.new"
	opCreate            = "groups.create"
	opJoin              = "groups.join"
	opLeave             = "groups.leave"
	opGroup             = "groups.get"
	opMembers           = "groups.members"
	opGroupsFor         = "groups.groups_for"
	opIsMember          = "groups.is_member"
	opAddMember         = "groups.add_member"
	opRemoveMember      = "groups.remove_member"
	opSwapMember        = "groups.swap_member"
	reasonMissingDB     = "missing_database"
	reasonInvalidInput  = "invalid_input"
	reasonCodeFailed    = "code_generation_failed"
	reasonCodeExhausted = "code_exhausted"
	reasonQueryFailed   = "query_failed"
	reasonSaveFailed    = "save_failed"
	reasonDeleteFailed  = "delete_failed"
	reasonConstraint    = "constraint_violated"
	reasonActiveFailed  = "active_group_failed"
	fieldCode           = "group_code"
	fieldPlayerID       = "player_id"
	queryCode           = "code = ?"
	queryGroupCode      = "group_code = ?"
	queryMemberPlayer   = "player_id = ?"
	queryMembership     = "group_code = ? AND player_id = ?"

	defaultMaxMembers         = 20
	defaultMaxGroupsPerPlayer = 5
	codeAttempts              = 5
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errCodeExhausted   = errors.New("could not generate a unique group code")
)

// ActiveGroupStore remembers which group each player is looking at.
type ActiveGroupStore interface {
	ActiveGroup(ctx context.Context, playerID players.PlayerID) (string, error)
	SetActiveGroup(ctx context.Context, playerID players.PlayerID, code string) error
}

// DirectoryConfig describes the dependencies of the group directory.
type DirectoryConfig struct {
	Database           *gorm.DB
	Clock              func() time.Time
	Logger             *zap.Logger
	Codes              CodeGenerator
	ActiveGroups       ActiveGroupStore
	MaxMembers         int
	MaxGroupsPerPlayer int
}

// Directory owns groups and their memberships.
type Directory struct {
	db                 *gorm.DB
	clock              func() time.Time
	logger             *zap.Logger
	codes              CodeGenerator
	activeGroups       ActiveGroupStore
	maxMembers         int
	maxGroupsPerPlayer int
}

// NewDirectory constructs the group directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opDirectoryNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := cfg.Codes
	if codes == nil {
		codes = NewRandomCodeGenerator()
	}
	maxMembers := cfg.MaxMembers
	if maxMembers <= 0 {
		maxMembers = defaultMaxMembers
	}
	maxGroups := cfg.MaxGroupsPerPlayer
	if maxGroups <= 0 {
		maxGroups = defaultMaxGroupsPerPlayer
	}
	return &Directory{
		db:                 cfg.Database,
		clock:              clock,
		logger:             logger,
		codes:              codes,
		activeGroups:       cfg.ActiveGroups,
		maxMembers:         maxMembers,
		maxGroupsPerPlayer: maxGroups,
	}, nil
}

// Create makes a new group with the creator as its only member and makes it the creator's active group.
func (d *Directory) Create(ctx context.Context, creator players.PlayerID, rawName string) (Group, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Group{}, svcerr.New(opCreate, reasonInvalidInput, err)
	}

	var created Group
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.ensureGroupCapacity(tx, opCreate, creator); err != nil {
			return err
		}
		code, err := d.uniqueCode(tx)
		if err != nil {
			return err
		}
		now := d.clock().UTC().Unix()
		created = Group{Code: code, Name: name, CreatedBy: creator.String(), CreatedAtS: now, MemberCount: 1}
		if err := tx.Create(&created).Error; err != nil {
			d.logError(opCreate, reasonSaveFailed, err, zap.String(fieldCode, code))
			return svcerr.New(opCreate, reasonSaveFailed, err)
		}
		membership := Membership{GroupCode: code, PlayerID: creator.String(), JoinedAtS: now}
		if err := tx.Create(&membership).Error; err != nil {
			d.logError(opCreate, reasonSaveFailed, err, zap.String(fieldCode, code))
			return svcerr.New(opCreate, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Group{}, txErr
	}

	d.markActive(ctx, opCreate, creator, created.Code)
	d.logger.Info("group created", zap.String(fieldCode, created.Code), zap.String(fieldPlayerID, creator.Short()))
	return created, nil
}

// Join adds the player to the group and makes it the player's active group.
func (d *Directory) Join(ctx context.Context, playerID players.PlayerID, rawCode string) (Group, error) {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return Group{}, svcerr.New(opJoin, reasonInvalidInput, err)
	}

	var joined Group
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := membershipExists(tx, code, playerID)
		if err != nil {
			d.logError(opJoin, reasonQueryFailed, err, zap.String(fieldCode, code))
			return svcerr.New(opJoin, reasonQueryFailed, err)
		}
		if member {
			return svcerr.New(opJoin, reasonConstraint, ErrAlreadyMember)
		}
		if err := d.ensureGroupCapacity(tx, opJoin, playerID); err != nil {
			return err
		}
		group, err := d.lockGroup(tx, opJoin, code)
		if err != nil {
			return err
		}
		if group.MemberCount >= d.maxMembers {
			return svcerr.New(opJoin, reasonConstraint, ErrGroupFull)
		}
		if err := d.insertMember(tx, opJoin, &group, playerID); err != nil {
			return err
		}
		joined = group
		return nil
	})
	if txErr != nil {
		return Group{}, txErr
	}

	d.markActive(ctx, opJoin, playerID, code)
	d.logger.Info("group joined", zap.String(fieldCode, code), zap.String(fieldPlayerID, playerID.Short()))
	return joined, nil
}

// Leave removes the player from the group. The last member leaving deletes the group. When the
// group was the player's active one, the next remaining group becomes active.
func (d *Directory) Leave(ctx context.Context, playerID players.PlayerID, rawCode string) error {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return svcerr.New(opLeave, reasonInvalidInput, err)
	}

	deleted := false
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := d.lockGroup(tx, opLeave, code)
		if err != nil {
			return err
		}
		removed, err := d.deleteMember(tx, opLeave, &group, playerID)
		if err != nil {
			return err
		}
		if !removed {
			return svcerr.New(opLeave, reasonConstraint, ErrNotMember)
		}
		deleted, err = d.deleteIfEmpty(tx, opLeave, group)
		return err
	})
	if txErr != nil {
		return txErr
	}

	d.reassignActive(ctx, playerID, code)
	d.logger.Info("group left",
		zap.String(fieldCode, code),
		zap.String(fieldPlayerID, playerID.Short()),
		zap.Bool("group_deleted", deleted))
	return nil
}

// Group returns the group for code and whether it exists.
func (d *Directory) Group(ctx context.Context, code string) (Group, bool, error) {
	var group Group
	err := d.db.WithContext(ctx).Where(queryCode, code).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, false, nil
	}
	if err != nil {
		d.logError(opGroup, reasonQueryFailed, err, zap.String(fieldCode, code))
		return Group{}, false, svcerr.New(opGroup, reasonQueryFailed, err)
	}
	return group, true, nil
}

// Members lists the group's players in join order.
func (d *Directory) Members(ctx context.Context, code string) ([]players.PlayerID, error) {
	var memberships []Membership
	err := d.db.WithContext(ctx).
		Where(queryGroupCode, code).
		Order("joined_at_s ASC, player_id ASC").
		Find(&memberships).Error
	if err != nil {
		d.logError(opMembers, reasonQueryFailed, err, zap.String(fieldCode, code))
		return nil, svcerr.New(opMembers, reasonQueryFailed, err)
	}
	members := make([]players.PlayerID, 0, len(memberships))
	for _, membership := range memberships {
		members = append(members, players.PlayerID(membership.PlayerID))
	}
	return members, nil
}

// GroupsFor lists the groups the player belongs to in join order.
func (d *Directory) GroupsFor(ctx context.Context, playerID players.PlayerID) ([]Group, error) {
	var memberships []Membership
	err := d.db.WithContext(ctx).
		Where(queryMemberPlayer, playerID.String()).
		Order("joined_at_s ASC, group_code ASC").
		Find(&memberships).Error
	if err != nil {
		d.logError(opGroupsFor, reasonQueryFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return nil, svcerr.New(opGroupsFor, reasonQueryFailed, err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	codes := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		codes = append(codes, membership.GroupCode)
	}
	var found []Group
	if err := d.db.WithContext(ctx).Where("code IN ?", codes).Find(&found).Error; err != nil {
		d.logError(opGroupsFor, reasonQueryFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return nil, svcerr.New(opGroupsFor, reasonQueryFailed, err)
	}
	byCode := make(map[string]Group, len(found))
	for _, group := range found {
		byCode[group.Code] = group
	}
	groups := make([]Group, 0, len(codes))
	for _, code := range codes {
		if group, ok := byCode[code]; ok {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// IsMember reports whether the player belongs to the group.
func (d *Directory) IsMember(ctx context.Context, code string, playerID players.PlayerID) (bool, error) {
	member, err := membershipExists(d.db.WithContext(ctx), code, playerID)
	if err != nil {
		d.logError(opIsMember, reasonQueryFailed, err, zap.String(fieldCode, code))
		return false, svcerr.New(opIsMember, reasonQueryFailed, err)
	}
	return member, nil
}

// AddMember inserts the player into an existing group. It reports whether a row was added; a
// player who is already a member leaves the count untouched.
func (d *Directory) AddMember(ctx context.Context, code string, playerID players.PlayerID) (bool, error) {
	added := false
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := d.lockGroup(tx, opAddMember, code)
		if err != nil {
			return err
		}
		member, err := membershipExists(tx, code, playerID)
		if err != nil {
			d.logError(opAddMember, reasonQueryFailed, err, zap.String(fieldCode, code))
			return svcerr.New(opAddMember, reasonQueryFailed, err)
		}
		if member {
			return nil
		}
		if group.MemberCount >= d.maxMembers {
			return svcerr.New(opAddMember, reasonConstraint, ErrGroupFull)
		}
		if err := d.ensureGroupCapacity(tx, opAddMember, playerID); err != nil {
			return err
		}
		if err := d.insertMember(tx, opAddMember, &group, playerID); err != nil {
			return err
		}
		added = true
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return added, nil
}

// RemoveMember drops the player's membership and decrements the count, floored at zero. A group
// left without members is deleted. Removing a non-member is a no-op.
func (d *Directory) RemoveMember(ctx context.Context, code string, playerID players.PlayerID) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := d.lockGroup(tx, opRemoveMember, code)
		if err != nil {
			return err
		}
		removed, err := d.deleteMember(tx, opRemoveMember, &group, playerID)
		if err != nil || !removed {
			return err
		}
		_, err = d.deleteIfEmpty(tx, opRemoveMember, group)
		return err
	})
}

// SwapMember replaces oldID's membership with newID's, keeping the member count unchanged.
// When newID was already a member the old membership is simply dropped. A newID already at its
// group limit is rejected and oldID stays a member.
func (d *Directory) SwapMember(ctx context.Context, code string, oldID, newID players.PlayerID) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := d.lockGroup(tx, opSwapMember, code)
		if err != nil {
			return err
		}
		member, err := membershipExists(tx, code, newID)
		if err != nil {
			d.logError(opSwapMember, reasonQueryFailed, err, zap.String(fieldCode, code))
			return svcerr.New(opSwapMember, reasonQueryFailed, err)
		}
		if !member {
			if err := d.ensureGroupCapacity(tx, opSwapMember, newID); err != nil {
				return err
			}
		}
		removed, err := d.deleteMember(tx, opSwapMember, &group, oldID)
		if err != nil {
			return err
		}
		if !removed {
			return svcerr.New(opSwapMember, reasonConstraint, ErrNotMember)
		}
		if member {
			return nil
		}
		return d.insertMember(tx, opSwapMember, &group, newID)
	})
}

// deleteIfEmpty removes a group whose member count reached zero, with any stray membership rows.
func (d *Directory) deleteIfEmpty(tx *gorm.DB, operation string, group Group) (bool, error) {
	if group.MemberCount > 0 {
		return false, nil
	}
	if err := tx.Where(queryGroupCode, group.Code).Delete(&Membership{}).Error; err != nil {
		d.logError(operation, reasonDeleteFailed, err, zap.String(fieldCode, group.Code))
		return false, svcerr.New(operation, reasonDeleteFailed, err)
	}
	if err := tx.Where(queryCode, group.Code).Delete(&Group{}).Error; err != nil {
		d.logError(operation, reasonDeleteFailed, err, zap.String(fieldCode, group.Code))
		return false, svcerr.New(operation, reasonDeleteFailed, err)
	}
	return true, nil
}

func (d *Directory) ensureGroupCapacity(tx *gorm.DB, operation string, playerID players.PlayerID) error {
	var joined int64
	if err := tx.Model(&Membership{}).Where(queryMemberPlayer, playerID.String()).Count(&joined).Error; err != nil {
		d.logError(operation, reasonQueryFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return svcerr.New(operation, reasonQueryFailed, err)
	}
	if joined >= int64(d.maxGroupsPerPlayer) {
		return svcerr.New(operation, reasonConstraint, ErrGroupLimitReached)
	}
	return nil
}

func (d *Directory) uniqueCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		candidate, err := d.codes.NewCode()
		if err != nil {
			d.logError(opCreate, reasonCodeFailed, err)
			return "", svcerr.New(opCreate, reasonCodeFailed, err)
		}
		var taken int64
		if err := tx.Model(&Group{}).Where(queryCode, candidate).Count(&taken).Error; err != nil {
			d.logError(opCreate, reasonQueryFailed, err)
			return "", svcerr.New(opCreate, reasonQueryFailed, err)
		}
		if taken == 0 {
			return candidate, nil
		}
		d.logger.Debug("group code collision", zap.String(fieldCode, candidate), zap.Int("attempt", attempt+1))
	}
	d.logError(opCreate, reasonCodeExhausted, errCodeExhausted)
	return "", svcerr.New(opCreate, reasonCodeExhausted, errCodeExhausted)
}

func (d *Directory) lockGroup(tx *gorm.DB, operation, code string) (Group, error) {
	var group Group
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryCode, code).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Group{}, svcerr.New(operation, reasonConstraint, ErrGroupNotFound)
	}
	if err != nil {
		d.logError(operation, reasonQueryFailed, err, zap.String(fieldCode, code))
		return Group{}, svcerr.New(operation, reasonQueryFailed, err)
	}
	return group, nil
}

func (d *Directory) insertMember(tx *gorm.DB, operation string, group *Group, playerID players.PlayerID) error {
	membership := Membership{GroupCode: group.Code, PlayerID: playerID.String(), JoinedAtS: d.clock().UTC().Unix()}
	if err := tx.Create(&membership).Error; err != nil {
		d.logError(operation, reasonSaveFailed, err, zap.String(fieldCode, group.Code))
		return svcerr.New(operation, reasonSaveFailed, err)
	}
	group.MemberCount++
	if err := tx.Model(&Group{}).Where(queryCode, group.Code).Update("member_count", group.MemberCount).Error; err != nil {
		d.logError(operation, reasonSaveFailed, err, zap.String(fieldCode, group.Code))
		return svcerr.New(operation, reasonSaveFailed, err)
	}
	return nil
}

func (d *Directory) deleteMember(tx *gorm.DB, operation string, group *Group, playerID players.PlayerID) (bool, error) {
	result := tx.Where(queryMembership, group.Code, playerID.String()).Delete(&Membership{})
	if result.Error != nil {
		d.logError(operation, reasonDeleteFailed, result.Error, zap.String(fieldCode, group.Code))
		return false, svcerr.New(operation, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	group.MemberCount = max(0, group.MemberCount-1)
	if err := tx.Model(&Group{}).Where(queryCode, group.Code).Update("member_count", group.MemberCount).Error; err != nil {
		d.logError(operation, reasonSaveFailed, err, zap.String(fieldCode, group.Code))
		return false, svcerr.New(operation, reasonSaveFailed, err)
	}
	return true, nil
}

func membershipExists(tx *gorm.DB, code string, playerID players.PlayerID) (bool, error) {
	var count int64
	if err := tx.Model(&Membership{}).Where(queryMembership, code, playerID.String()).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *Directory) markActive(ctx context.Context, operation string, playerID players.PlayerID, code string) {
	if d.activeGroups == nil {
		return
	}
	if err := d.activeGroups.SetActiveGroup(ctx, playerID, code); err != nil {
		d.logError(operation, reasonActiveFailed, err, zap.String(fieldCode, code))
	}
}

func (d *Directory) reassignActive(ctx context.Context, playerID players.PlayerID, leftCode string) {
	if d.activeGroups == nil {
		return
	}
	active, err := d.activeGroups.ActiveGroup(ctx, playerID)
	if err != nil {
		d.logError(opLeave, reasonActiveFailed, err, zap.String(fieldCode, leftCode))
		return
	}
	if active != leftCode {
		return
	}
	next := ""
	remaining, err := d.GroupsFor(ctx, playerID)
	if err != nil {
		return
	}
	if len(remaining) > 0 {
		next = remaining[0].Code
	}
	d.markActive(ctx, opLeave, playerID, next)
}

func (d *Directory) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	d.logger.Error("groups directory error", attrs...)
}
