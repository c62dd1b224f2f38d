package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"giftmanager/api/internal/auth"
	"giftmanager/api/internal/authpw"
	"giftmanager/api/internal/authz"
	"giftmanager/api/internal/config"
	"giftmanager/api/internal/email"
	"giftmanager/api/internal/ideas"
	"giftmanager/api/internal/identity"
	"giftmanager/api/internal/santa"
	"giftmanager/api/internal/search"
	"giftmanager/api/internal/session"
	"giftmanager/api/internal/store"
	"giftmanager/api/internal/visibility"
)

type Session struct {
	Token        string
	RefreshToken string
	Username     string
	FullName     string
	Admin        bool
	JTI          string
	ExpiresAt    time.Time
}

// IdeaInput carries the caller-editable fields of a gift idea.
type IdeaInput struct {
	ForUser     string  `json:"forUser"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Link        string  `json:"link"`
	Value       *string `json:"value"`
	Priority    *int    `json:"priority"`
}

// OrderEntry is one element of a bulk priority reorder.
type OrderEntry struct {
	ID       int64 `json:"id"`
	Priority *int  `json:"priority"`
}

// IdeaView is the JSON projection of a gift idea. Bought fields are
// omitted on a user's own list.
type IdeaView struct {
	ID          int64      `json:"id"`
	ForUser     string     `json:"forUser"`
	AddedBy     string     `json:"addedBy"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Link        string     `json:"link,omitempty"`
	Value       *string    `json:"value,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Bought      *bool      `json:"bought,omitempty"`
	BoughtBy    *string    `json:"boughtBy,omitempty"`
	DateBought  *time.Time `json:"dateBought,omitempty"`
}

// Assignment is one entry of a user's Secret Santa view.
type Assignment struct {
	Pool         string `json:"pool"`
	Recipient    string `json:"recipient"`
	Instructions string `json:"instructions"`
}

const noInstructions = "No special instructions for this pool."

type dataStore interface {
	LoadUsers(ctx context.Context) ([]store.User, error)
	SaveUsers(ctx context.Context, users []store.User) error
	GetUser(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserEmail(ctx context.Context, username, email string) error
	UpdateUserProfile(ctx context.Context, username, fullName, birthday, avatar string) error
	LoadIdeas(ctx context.Context) ([]store.GiftIdea, error)
	SaveIdeas(ctx context.Context, ideas []store.GiftIdea) error
	SavePoolInstructions(ctx context.Context, poolName, instructions string) error
	GetPoolInstructions(ctx context.Context, poolName string) (string, error)
	DeletePoolInstructions(ctx context.Context, poolName string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, username string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexIdea(idea store.GiftIdea)
	DeleteIdea(id int64)
	ReindexAll(ideas []store.GiftIdea)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	tokens    *auth.Manager
	passwords *authpw.Service
	email     *email.Service
	search    searchService

	// usersMu is always taken before ideasMu when both are needed.
	usersMu sync.RWMutex
	ideasMu sync.RWMutex
}

// New wires the engine. sessions may equal the data store (Postgres
// fallback when Redis is not configured); emailSvc and searchSvc may be
// nil when not configured.
func New(cfg config.Config, dataStore dataStore, sessions sessionStore, passwords *authpw.Service, emailSvc *email.Service, searchSvc searchService) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		tokens:    auth.NewManager(cfg.JWTSecret, cfg.AccessTTL),
		passwords: passwords,
		email:     emailSvc,
		search:    searchSvc,
	}
}

// Bootstrap pushes the current idea set into the search index so a
// fresh index catches up with the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return err
	}
	s.search.ReindexAll(list)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Login(ctx, username, password)
	if err != nil {
		return Session{}, unauthorized("Invalid username or password")
	}
	return s.issueSession(ctx, user)
}

// LoginOIDC completes an external login. The caller has already
// verified the provider's claims; we only map them onto a local
// account.
func (s *Service) LoginOIDC(ctx context.Context, claims map[string]string) (Session, error) {
	cfg := identity.MatchConfig{
		PrimaryClaim:   s.cfg.OIDCPrimaryClaim,
		PrimaryField:   s.cfg.OIDCPrimaryField,
		SecondaryClaim: s.cfg.OIDCSecondaryClaim,
		SecondaryField: s.cfg.OIDCSecondaryField,
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return Session{}, storageFailure(err)
	}

	user, ok := identity.Match(cfg, claims, users)
	if !ok {
		if !s.cfg.AutoRegister {
			return Session{}, unauthorized("No local account matches this login")
		}
		username := strings.TrimSpace(claims[cfg.PrimaryClaim])
		if username == "" {
			return Session{}, invalidArgument("Login is missing the "+cfg.PrimaryClaim+" claim", nil)
		}
		user = store.User{
			Username: username,
			FullName: claims["name"],
			Email:    claims["email"],
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return Session{}, storageFailure(err)
		}
		slog.Info("auto-registered user from external login", "username", username)
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	username, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, store.ErrNotFound) {
		return Session{}, unauthorized("Refresh token invalid")
	}
	if err != nil {
		return Session{}, storageFailure(err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, storageFailure(err)
	}
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return Session{}, unauthorized("Refresh token invalid")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, err := s.tokens.Generate(user.Username, user.FullName, user.Admin)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return Session{}, fmt.Errorf("validate issued token: %w", err)
	}

	refresh := auth.NewRefreshToken()
	refreshExpires := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.Username, refreshExpires); err != nil {
		return Session{}, storageFailure(err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Username:     user.Username,
		FullName:     user.FullName,
		Admin:        user.Admin,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// Re-read the user so admin changes take effect without re-login.
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		Username:  user.Username,
		FullName:  user.FullName,
		Admin:     user.Admin,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Visibility

func (s *Service) VisibleUsers(ctx context.Context, session Session) ([]store.UserSummary, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	users, viewer, err := s.loadViewer(ctx, session)
	if err != nil {
		return nil, err
	}

	summaries := make([]store.UserSummary, 0, len(users))
	for _, user := range visibility.VisibleUsers(viewer, users) {
		summaries = append(summaries, store.UserSummary{
			Username: user.Username,
			FullName: user.FullName,
		})
	}
	return summaries, nil
}

// UserIdeas returns another user's list, ordered, with bought state.
// Users outside the viewer's visibility are reported as not found.
func (s *Service) UserIdeas(ctx context.Context, session Session, username string) ([]IdeaView, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	s.ideasMu.RLock()
	defer s.ideasMu.RUnlock()

	users, viewer, err := s.loadViewer(ctx, session)
	if err != nil {
		return nil, err
	}
	target, ok := findUser(users, username)
	if !ok || !visibility.CanSee(viewer, target) {
		return nil, notFound("Unknown user")
	}

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	// Looking at your own list must not spoil surprises: only
	// self-added ideas show up, without bought state.
	self := store.SameUser(target.Username, session.Username)

	var views []IdeaView
	for _, idea := range ideas.Order(list) {
		if !store.SameUser(idea.ForUser, target.Username) {
			continue
		}
		if self && !store.SameUser(idea.AddedBy, session.Username) {
			continue
		}
		views = append(views, ideaView(idea, !self))
	}
	return nonNilViews(views), nil
}

// MyIdeas returns only the ideas the caller added to their own list.
// Bought state is withheld so surprises stay surprises.
func (s *Service) MyIdeas(ctx context.Context, session Session) ([]IdeaView, error) {
	s.ideasMu.RLock()
	defer s.ideasMu.RUnlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	var views []IdeaView
	for _, idea := range ideas.Order(list) {
		if store.SameUser(idea.ForUser, session.Username) && store.SameUser(idea.AddedBy, session.Username) {
			views = append(views, ideaView(idea, false))
		}
	}
	return nonNilViews(views), nil
}

// BoughtItems lists every idea the caller has marked as bought.
func (s *Service) BoughtItems(ctx context.Context, session Session) ([]IdeaView, error) {
	s.ideasMu.RLock()
	defer s.ideasMu.RUnlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	var views []IdeaView
	for _, idea := range ideas.Order(list) {
		if idea.Bought() && store.SameUser(*idea.BoughtBy, session.Username) {
			views = append(views, ideaView(idea, true))
		}
	}
	return nonNilViews(views), nil
}

// Ideas

func (s *Service) AddIdea(ctx context.Context, session Session, input IdeaInput) (IdeaView, error) {
	if strings.TrimSpace(input.Name) == "" {
		return IdeaView{}, invalidArgument("Idea name is required", nil)
	}
	if strings.TrimSpace(input.ForUser) == "" {
		return IdeaView{}, invalidArgument("Recipient is required", nil)
	}

	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	s.ideasMu.Lock()
	defer s.ideasMu.Unlock()

	users, viewer, err := s.loadViewer(ctx, session)
	if err != nil {
		return IdeaView{}, err
	}
	recipient, ok := findUser(users, input.ForUser)
	if !ok || !visibility.CanSee(viewer, recipient) {
		return IdeaView{}, notFound("Unknown user")
	}

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return IdeaView{}, storageFailure(err)
	}

	idea := store.GiftIdea{
		ID:          ideas.NextID(list),
		ForUser:     recipient.Username,
		AddedBy:     session.Username,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Link:        input.Link,
		Value:       input.Value,
		Priority:    input.Priority,
		CreatedAt:   time.Now(),
	}
	list = append(list, idea)

	if err := s.store.SaveIdeas(ctx, list); err != nil {
		return IdeaView{}, storageFailure(err)
	}
	if s.search != nil {
		s.search.IndexIdea(idea)
	}
	return ideaView(idea, true), nil
}

func (s *Service) EditIdea(ctx context.Context, session Session, id int64, input IdeaInput) (IdeaView, error) {
	if strings.TrimSpace(input.Name) == "" {
		return IdeaView{}, invalidArgument("Idea name is required", nil)
	}

	s.ideasMu.Lock()
	defer s.ideasMu.Unlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return IdeaView{}, storageFailure(err)
	}
	idx := ideas.FindByID(list, id)
	if idx < 0 {
		return IdeaView{}, notFound("Unknown idea")
	}
	if !authz.CanMutate(session.Username, list[idx]) {
		return IdeaView{}, forbidden("Only the author or the recipient may change this idea")
	}

	list[idx].Name = strings.TrimSpace(input.Name)
	list[idx].Description = input.Description
	list[idx].Link = input.Link
	list[idx].Value = input.Value
	list[idx].Priority = input.Priority

	if err := s.store.SaveIdeas(ctx, list); err != nil {
		return IdeaView{}, storageFailure(err)
	}
	if s.search != nil {
		s.search.IndexIdea(list[idx])
	}
	return ideaView(list[idx], true), nil
}

func (s *Service) DeleteIdea(ctx context.Context, session Session, id int64) error {
	s.ideasMu.Lock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		s.ideasMu.Unlock()
		return storageFailure(err)
	}
	idx := ideas.FindByID(list, id)
	if idx < 0 {
		s.ideasMu.Unlock()
		return notFound("Unknown idea")
	}
	if !authz.CanMutate(session.Username, list[idx]) {
		s.ideasMu.Unlock()
		return forbidden("Only the author or the recipient may delete this idea")
	}

	removed := list[idx]
	list = append(list[:idx], list[idx+1:]...)
	if err := s.store.SaveIdeas(ctx, list); err != nil {
		s.ideasMu.Unlock()
		return storageFailure(err)
	}
	s.ideasMu.Unlock()

	if s.search != nil {
		s.search.DeleteIdea(removed.ID)
	}
	// The buyer paid for a gift whose idea just vanished; tell them
	// outside the critical section.
	if removed.Bought() && !store.SameUser(*removed.BoughtBy, session.Username) {
		s.notifyBuyer(ctx, removed)
	}
	return nil
}

func (s *Service) notifyBuyer(ctx context.Context, idea store.GiftIdea) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	buyer, err := s.store.GetUser(ctx, *idea.BoughtBy)
	if err != nil || buyer.Email == "" {
		return
	}
	if err := s.email.SendBoughtIdeaRemoved(buyer.Email, buyer.FullName, idea.Name, idea.ForUser); err != nil {
		slog.Warn("failed to notify buyer of removed idea", "idea", idea.ID, "error", err)
	}
}

// MarkBought claims an idea for the calling buyer. First buyer wins.
func (s *Service) MarkBought(ctx context.Context, session Session, id int64) (IdeaView, error) {
	s.ideasMu.Lock()
	defer s.ideasMu.Unlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return IdeaView{}, storageFailure(err)
	}
	idx := ideas.FindByID(list, id)
	if idx < 0 {
		return IdeaView{}, notFound("Unknown idea")
	}
	if !authz.CanMarkBought(session.Username, list[idx]) {
		return IdeaView{}, conflict("Idea is already bought")
	}

	buyer := session.Username
	now := time.Now()
	list[idx].BoughtBy = &buyer
	list[idx].DateBought = &now

	if err := s.store.SaveIdeas(ctx, list); err != nil {
		return IdeaView{}, storageFailure(err)
	}
	return ideaView(list[idx], true), nil
}

// MarkNotBought releases a claim. Only the recorded buyer may do so.
func (s *Service) MarkNotBought(ctx context.Context, session Session, id int64) (IdeaView, error) {
	s.ideasMu.Lock()
	defer s.ideasMu.Unlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return IdeaView{}, storageFailure(err)
	}
	idx := ideas.FindByID(list, id)
	if idx < 0 {
		return IdeaView{}, notFound("Unknown idea")
	}
	if !authz.CanUnmarkBought(session.Username, list[idx]) {
		return IdeaView{}, forbidden("Only the buyer may undo a purchase")
	}

	list[idx].BoughtBy = nil
	list[idx].DateBought = nil

	if err := s.store.SaveIdeas(ctx, list); err != nil {
		return IdeaView{}, storageFailure(err)
	}
	return ideaView(list[idx], true), nil
}

// UpdateOrder applies a bulk priority change. Every referenced idea
// must pass the mutation guard or nothing changes.
func (s *Service) UpdateOrder(ctx context.Context, session Session, entries []OrderEntry) error {
	if len(entries) == 0 {
		return invalidArgument("No order entries supplied", nil)
	}

	s.ideasMu.Lock()
	defer s.ideasMu.Unlock()

	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return storageFailure(err)
	}

	indexes := make([]int, 0, len(entries))
	for _, entry := range entries {
		idx := ideas.FindByID(list, entry.ID)
		if idx < 0 {
			return notFound(fmt.Sprintf("Unknown idea %d", entry.ID))
		}
		if !authz.CanMutate(session.Username, list[idx]) {
			return forbidden("Only the author or the recipient may reorder these ideas")
		}
		indexes = append(indexes, idx)
	}
	for i, entry := range entries {
		list[indexes[i]].Priority = entry.Priority
	}

	if err := s.store.SaveIdeas(ctx, list); err != nil {
		return storageFailure(err)
	}
	return nil
}

// SearchIdeas runs a text search and filters hits to the viewer's
// visible ideas.
func (s *Service) SearchIdeas(ctx context.Context, session Session, query string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}

	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	s.ideasMu.RLock()
	defer s.ideasMu.RUnlock()

	users, viewer, err := s.loadViewer(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	list, err := s.store.LoadIdeas(ctx)
	if err != nil {
		return search.Response{}, storageFailure(err)
	}

	visibleIDs := make(map[int64]struct{})
	for _, idea := range visibility.VisibleIdeas(viewer, list, users) {
		visibleIDs[idea.ID] = struct{}{}
	}

	resp := s.search.Search(search.Query{Text: query, Limit: limit, Offset: offset})
	filtered := make([]search.Result, 0, len(resp.Results))
	for _, result := range resp.Results {
		if _, ok := visibleIDs[result.ID]; ok {
			filtered = append(filtered, result)
		}
	}
	resp.Results = filtered
	resp.Total = len(filtered)
	return resp, nil
}

// Pools

func (s *Service) CreatePool(ctx context.Context, session Session, name string, participants []string, instructions string) (map[string]string, error) {
	if !session.Admin {
		return nil, forbidden("Only admins may create pools")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidArgument("Pool name is required", nil)
	}
	if len(participants) < santa.MinParticipants {
		return nil, invalidArgument(fmt.Sprintf("A pool needs at least %d participants", santa.MinParticipants), nil)
	}

	s.usersMu.Lock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		s.usersMu.Unlock()
		return nil, storageFailure(err)
	}
	for _, pool := range santa.ActivePools(users) {
		if pool == name {
			s.usersMu.Unlock()
			return nil, conflict("Pool already exists")
		}
	}

	members := make([]string, 0, len(participants))
	seen := make(map[string]struct{}, len(participants))
	for _, participant := range participants {
		user, ok := findUser(users, participant)
		if !ok {
			s.usersMu.Unlock()
			return nil, notFound("Unknown user " + participant)
		}
		// A duplicate entry would collapse the cycle into a
		// self-assignment, so reject it outright.
		key := strings.ToLower(user.Username)
		if _, dup := seen[key]; dup {
			s.usersMu.Unlock()
			return nil, invalidArgument("Duplicate participant "+user.Username, nil)
		}
		seen[key] = struct{}{}
		members = append(members, user.Username)
	}

	assignments := santa.Cycle(santa.Shuffle(members))
	for i := range users {
		recipient, ok := assignments[users[i].Username]
		if !ok {
			continue
		}
		if users[i].AssignedPools == nil {
			users[i].AssignedPools = make(map[string]string)
		}
		users[i].AssignedPools[name] = recipient
	}

	if err := s.store.SaveUsers(ctx, users); err != nil {
		s.usersMu.Unlock()
		return nil, storageFailure(err)
	}
	if err := s.store.SavePoolInstructions(ctx, name, instructions); err != nil {
		s.usersMu.Unlock()
		return nil, storageFailure(err)
	}
	s.usersMu.Unlock()

	s.notifyAssignments(ctx, name, assignments)
	return assignments, nil
}

func (s *Service) notifyAssignments(ctx context.Context, pool string, assignments map[string]string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	for giver, receiver := range assignments {
		user, err := s.store.GetUser(ctx, giver)
		if err != nil || user.Email == "" {
			continue
		}
		if err := s.email.SendAssignment(user.Email, user.FullName, receiver, pool); err != nil {
			slog.Warn("failed to send assignment email", "pool", pool, "user", giver, "error", err)
		}
	}
}

func (s *Service) DeletePool(ctx context.Context, session Session, name string) error {
	if !session.Admin {
		return forbidden("Only admins may delete pools")
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return storageFailure(err)
	}

	found := false
	for i := range users {
		if _, ok := users[i].AssignedPools[name]; ok {
			delete(users[i].AssignedPools, name)
			found = true
		}
	}
	if !found {
		return notFound("Unknown pool")
	}

	if err := s.store.SaveUsers(ctx, users); err != nil {
		return storageFailure(err)
	}
	if err := s.store.DeletePoolInstructions(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return storageFailure(err)
	}
	return nil
}

// Pools lists the active pools with their members. Admin only; regular
// users only ever see their own assignments.
func (s *Service) Pools(ctx context.Context, session Session) (map[string][]string, error) {
	if !session.Admin {
		return nil, forbidden("Only admins may list pools")
	}

	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	pools := make(map[string][]string)
	for _, pool := range santa.ActivePools(users) {
		pools[pool] = santa.PoolMembers(users, pool)
	}
	return pools, nil
}

// MyAssignments returns the caller's pool draws with instructions.
func (s *Service) MyAssignments(ctx context.Context, session Session) ([]Assignment, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	user, err := s.store.GetUser(ctx, session.Username)
	if err != nil {
		return nil, storageFailure(err)
	}

	pools := make([]string, 0, len(user.AssignedPools))
	for pool := range user.AssignedPools {
		pools = append(pools, pool)
	}
	sort.Strings(pools)

	assignments := make([]Assignment, 0, len(pools))
	for _, pool := range pools {
		instructions, err := s.store.GetPoolInstructions(ctx, pool)
		if err != nil || strings.TrimSpace(instructions) == "" {
			instructions = noInstructions
		}
		assignments = append(assignments, Assignment{
			Pool:         pool,
			Recipient:    user.AssignedPools[pool],
			Instructions: instructions,
		})
	}
	return assignments, nil
}

// Groups

// Groups returns the derived group listing: the sorted union of every
// user's tags, with members.
func (s *Service) Groups(ctx context.Context, session Session) (map[string][]string, error) {
	if !session.Admin {
		return nil, forbidden("Only admins may manage groups")
	}

	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	groups := make(map[string][]string)
	for _, user := range users {
		for _, group := range user.Groups {
			groups[group] = append(groups[group], user.Username)
		}
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			return strings.ToLower(members[i]) < strings.ToLower(members[j])
		})
	}
	return groups, nil
}

// AddGroup adds the named tag to each listed user. Re-adding is a
// no-op, so the operation is idempotent.
func (s *Service) AddGroup(ctx context.Context, session Session, name string, usernames []string) error {
	if !session.Admin {
		return forbidden("Only admins may manage groups")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return invalidArgument("Group name is required", nil)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return storageFailure(err)
	}

	for _, username := range usernames {
		found := false
		for i := range users {
			if !store.SameUser(users[i].Username, username) {
				continue
			}
			found = true
			if !users[i].InGroup(name) {
				users[i].Groups = append(users[i].Groups, name)
			}
		}
		if !found {
			return notFound("Unknown user " + username)
		}
	}

	if err := s.store.SaveUsers(ctx, users); err != nil {
		return storageFailure(err)
	}
	return nil
}

// SetGroups replaces a user's group tags wholesale.
func (s *Service) SetGroups(ctx context.Context, session Session, username string, groups []string) error {
	if !session.Admin {
		return forbidden("Only admins may manage groups")
	}

	cleaned := make([]string, 0, len(groups))
	seen := make(map[string]struct{})
	for _, group := range groups {
		if strings.TrimSpace(group) == "" {
			return invalidArgument("Group names must not be blank", nil)
		}
		if _, dup := seen[group]; dup {
			continue
		}
		seen[group] = struct{}{}
		cleaned = append(cleaned, group)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return storageFailure(err)
	}

	found := false
	for i := range users {
		if store.SameUser(users[i].Username, username) {
			users[i].Groups = cleaned
			found = true
			break
		}
	}
	if !found {
		return notFound("Unknown user")
	}

	if err := s.store.SaveUsers(ctx, users); err != nil {
		return storageFailure(err)
	}
	return nil
}

// Accounts

type NewUserInput struct {
	Username string   `json:"username"`
	FullName string   `json:"fullName"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Birthday string   `json:"birthday"`
	Groups   []string `json:"groups"`
	Admin    bool     `json:"admin"`
}

func (s *Service) AddUser(ctx context.Context, session Session, input NewUserInput) error {
	if !session.Admin {
		return forbidden("Only admins may add users")
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return invalidArgument("Username is required", nil)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	if _, err := s.store.GetUser(ctx, username); err == nil {
		return conflict("Username already taken")
	}

	var passwordHash string
	if input.Password != "" {
		hash, err := authpw.HashPassword(input.Password)
		if err != nil {
			return invalidArgument(err.Error(), nil)
		}
		passwordHash = hash
	}

	user := store.User{
		Username:     username,
		FullName:     input.FullName,
		Email:        input.Email,
		PasswordHash: passwordHash,
		Birthday:     input.Birthday,
		Groups:       input.Groups,
		Admin:        input.Admin,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return storageFailure(err)
	}
	return nil
}

func (s *Service) ChangeEmail(ctx context.Context, session Session, newEmail string) error {
	newEmail = strings.TrimSpace(newEmail)
	if newEmail == "" || !strings.Contains(newEmail, "@") {
		return invalidArgument("A valid email address is required", nil)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	if err := s.store.UpdateUserEmail(ctx, session.Username, newEmail); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Unknown user")
		}
		return storageFailure(err)
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	err := s.passwords.ChangePassword(ctx, session.Username, current, next)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return forbidden("Current password is incorrect")
	case errors.Is(err, authpw.ErrPasswordTooShort):
		return invalidArgument(err.Error(), nil)
	default:
		return storageFailure(err)
	}
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, fullName, birthday, avatar string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	if err := s.store.UpdateUserProfile(ctx, session.Username, fullName, birthday, avatar); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Unknown user")
		}
		return storageFailure(err)
	}
	return nil
}

// helpers

func (s *Service) loadViewer(ctx context.Context, session Session) ([]store.User, store.User, error) {
	users, err := s.store.LoadUsers(ctx)
	if err != nil {
		return nil, store.User{}, storageFailure(err)
	}
	viewer, ok := findUser(users, session.Username)
	if !ok {
		return nil, store.User{}, unauthorized("Unknown session user")
	}
	return users, viewer, nil
}

func findUser(users []store.User, username string) (store.User, bool) {
	for _, user := range users {
		if store.SameUser(user.Username, username) {
			return user, true
		}
	}
	return store.User{}, false
}

func ideaView(idea store.GiftIdea, includeBought bool) IdeaView {
	view := IdeaView{
		ID:          idea.ID,
		ForUser:     idea.ForUser,
		AddedBy:     idea.AddedBy,
		Name:        idea.Name,
		Description: idea.Description,
		Link:        idea.Link,
		Value:       idea.Value,
		Priority:    idea.Priority,
	}
	if includeBought {
		bought := idea.Bought()
		view.Bought = &bought
		view.BoughtBy = idea.BoughtBy
		view.DateBought = idea.DateBought
	}
	return view
}

func nonNilViews(views []IdeaView) []IdeaView {
	if views == nil {
		return []IdeaView{}
	}
	return views
}
