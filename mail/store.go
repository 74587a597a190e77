package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxFilterLength = 1000

// Options supplies the store's collaborators. Nil fields fall back to
// NeverSpam, NopNotifier, no hooks and no send throttle.
type Options struct {
	Spam     SpamClassifier
	Notifier Notifier
	Hooks    *hook.HookCenter
	Cache    cache.Cache
}

// Store owns message copies. Every send writes the recipient's and the
// sender's copy in one transaction, then runs the autoban policy, the
// recipient's unread resync and the notifier once the write has committed.
type Store struct {
	db        *gorm.DB
	cfg       config.MailConfig
	filter    FilterEngine
	spam      SpamClassifier
	notifier  Notifier
	hooks     *hook.HookCenter
	guard     *Guard
	throttle  *Throttle
	sanctions *Sanctions
	autoban   *AutobanPolicy
	unread    *UnreadCounter
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, cfg config.MailConfig, opts Options, logger *zap.Logger) *Store {
	st := &Store{
		db:       db,
		cfg:      cfg,
		spam:     opts.Spam,
		notifier: opts.Notifier,
		hooks:    opts.Hooks,
		guard:    NewGuard([]byte(cfg.TokenSecret)),
		throttle: NewThrottle(opts.Cache, cfg.HourlyLimit),
		unread:   NewUnreadCounter(db),
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
	if st.spam == nil {
		st.spam = NeverSpam{}
	}
	if st.notifier == nil {
		st.notifier = NopNotifier{}
	}
	st.sanctions = NewSanctions(db, logger)
	st.autoban = NewAutobanPolicy(db, st.sanctions,
		cfg.AutobanWindow, cfg.AutobanThreshold, cfg.AutobanDuration, cfg.ExemptLevel)
	return st
}

func (st *Store) Guard() *Guard                 { return st.guard }
func (st *Store) Sanctions() *Sanctions         { return st.sanctions }
func (st *Store) Autoban() *AutobanPolicy       { return st.autoban }
func (st *Store) UnreadCounter() *UnreadCounter { return st.unread }

// afterCommit collects work that must only run once a transaction has
// committed.
type afterCommit []func(ctx context.Context)

func (a *afterCommit) add(fn func(ctx context.Context)) { *a = append(*a, fn) }

// transact runs fn in a transaction and, only if it commits, the
// functions fn queued on after, in order.
func (st *Store) transact(ctx context.Context, fn func(tx *gorm.DB, after *afterCommit) error) error {
	var after afterCommit
	err := st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		after = after[:0]
		return fn(tx, &after)
	})
	if err != nil {
		return err
	}
	for _, f := range after {
		f(ctx)
	}
	return nil
}

func (st *Store) loadUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := st.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Actor loads the current level of userID.
func (st *Store) Actor(ctx context.Context, userID int64) (Actor, error) {
	u, err := st.loadUser(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return ActorOf(u), nil
}

// ---- Sending ----

// SendRequest names a recipient by id or by name.
type SendRequest struct {
	ToID   int64  `json:"to_id"`
	ToName string `json:"to_name"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// SendResult describes a committed send. RecipientCopy is nil for a
// message sent to oneself; Ban is set when the send got the sender banned.
type SendResult struct {
	RecipientCopy *model.Message
	SenderCopy    *model.Message
	Spam          bool
	Filtered      bool
	Ban           *model.Ban
}

// Send validates req, classifies it and stores it for both parties.
func (st *Store) Send(ctx context.Context, a Actor, req SendRequest) (*SendResult, error) {
	sender, err := st.loadUser(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	d := Draft{Title: strings.TrimSpace(req.Title), Body: req.Body}

	var verrs ValidationErrors
	recipient, err := st.resolveRecipient(ctx, req)
	switch {
	case errors.Is(err, ErrUserNotFound):
		verrs.add("to", "user does not exist")
	case err != nil:
		return nil, err
	}
	st.checkDraft(d, &verrs)
	st.checkSender(sender, &verrs)
	if recipient != nil && recipient.ID != sender.ID {
		blocked, err := st.isBlocked(ctx, recipient.ID, sender.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			verrs.add("to", "recipient does not accept messages from you")
		}
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	throttled := sender.Level < st.cfg.ExemptLevel
	if throttled {
		reached, err := st.throttle.Reached(ctx, sender.ID)
		if err != nil {
			st.logger.Warn("send throttle unavailable", zap.Int64("user_id", sender.ID), zap.Error(err))
		}
		if reached {
			return nil, ValidationErrors{{Field: "base", Message: "hourly message limit reached"}}
		}
	}

	var spam, filtered bool
	if recipient.ID != sender.ID {
		spam = st.spam.Classify(ctx, d, sender)
		filtered = !sender.IsModerator() && st.filter.Matches(d, sender.Name, recipient.MailFilter)
	}

	ev := &SendEvent{Sender: sender, Recipient: recipient, Draft: d, Spam: spam, Filtered: filtered}
	if _, err := st.hooks.Trigger(ctx, hook.BeforeMailSend, ev); errors.Is(err, hook.ErrInterrupt) {
		return nil, ValidationErrors{{Field: "base", Message: "message rejected"}}
	}
	res, err := st.deliver(ctx, d, sender, recipient, filtered, spam)
	if err != nil {
		return nil, err
	}
	if throttled {
		if err := st.throttle.Record(ctx, sender.ID); err != nil {
			st.logger.Warn("send throttle unavailable", zap.Int64("user_id", sender.ID), zap.Error(err))
		}
	}
	return res, nil
}

// CreateSplit stores a message that has already been classified. It
// still refuses an empty title or body and a banned sender, before
// anything is written.
func (st *Store) CreateSplit(ctx context.Context, d Draft, senderID, recipientID int64, filtered, spam bool) (*SendResult, error) {
	sender, err := st.loadUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := st.loadUser(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	var verrs ValidationErrors
	st.checkDraft(d, &verrs)
	st.checkSender(sender, &verrs)
	if err := verrs.orNil(); err != nil {
		return nil, err
	}
	if senderID == recipientID {
		filtered, spam = false, false
	}
	return st.deliver(ctx, d, sender, recipient, filtered, spam)
}

func (st *Store) resolveRecipient(ctx context.Context, req SendRequest) (*model.User, error) {
	if req.ToID != 0 {
		return st.loadUser(ctx, req.ToID)
	}
	if strings.TrimSpace(req.ToName) == "" {
		return nil, ErrUserNotFound
	}
	u, err := model.FindUserByName(st.db.WithContext(ctx), req.ToName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (st *Store) checkDraft(d Draft, verrs *ValidationErrors) {
	switch {
	case d.Title == "":
		verrs.add("title", "can't be blank")
	case st.cfg.MaxTitleLength > 0 && utf8.RuneCountInString(d.Title) > st.cfg.MaxTitleLength:
		verrs.add("title", fmt.Sprintf("is too long (maximum is %d characters)", st.cfg.MaxTitleLength))
	}
	switch {
	case strings.TrimSpace(d.Body) == "":
		verrs.add("body", "can't be blank")
	case st.cfg.MaxBodyLength > 0 && utf8.RuneCountInString(d.Body) > st.cfg.MaxBodyLength:
		verrs.add("body", fmt.Sprintf("is too long (maximum is %d characters)", st.cfg.MaxBodyLength))
	}
}

func (st *Store) checkSender(sender *model.User, verrs *ValidationErrors) {
	if sender.IsBanned(st.now().UTC()) {
		verrs.add("base", "sender is banned and cannot send messages")
	}
}

// deliver writes the copies and queues the post-commit bookkeeping.
func (st *Store) deliver(ctx context.Context, d Draft, sender, recipient *model.User, filtered, spam bool) (*SendResult, error) {
	self := sender.ID == recipient.ID
	res := &SendResult{Spam: spam, Filtered: filtered}
	createdAt := st.now().UTC()

	err := st.transact(ctx, func(tx *gorm.DB, after *afterCommit) error {
		res.RecipientCopy = nil
		if !self {
			rc := &model.Message{
				OwnerID:   recipient.ID,
				FromID:    sender.ID,
				ToID:      recipient.ID,
				Title:     d.Title,
				Body:      d.Body,
				IsRead:    filtered,
				IsSpam:    spam,
				CreatedAt: createdAt,
			}
			if err := tx.Create(rc).Error; err != nil {
				return fmt.Errorf("create recipient copy: %w", err)
			}
			res.RecipientCopy = rc
		}
		sc := &model.Message{
			OwnerID:   sender.ID,
			FromID:    sender.ID,
			ToID:      recipient.ID,
			Title:     d.Title,
			Body:      d.Body,
			IsRead:    true,
			CreatedAt: createdAt,
		}
		if err := tx.Create(sc).Error; err != nil {
			return fmt.Errorf("create sender copy: %w", err)
		}
		res.SenderCopy = sc

		if !self {
			after.add(func(ctx context.Context) { res.Ban = st.evaluateAutoban(ctx, sender.ID) })
			after.add(func(ctx context.Context) { st.deliverToRecipient(ctx, res.RecipientCopy, recipient) })
		}
		after.add(func(ctx context.Context) {
			st.fire(ctx, hook.OnMailSent, &SendEvent{
				Sender: sender, Recipient: recipient, Draft: d,
				RecipientCopy: res.RecipientCopy, SenderCopy: res.SenderCopy,
				Spam: spam, Filtered: filtered,
			})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := outcomeDelivered
	switch {
	case self:
		outcome = outcomeSelf
	case spam:
		outcome = outcomeSpam
	case filtered:
		outcome = outcomeFiltered
	}
	metricSent.WithLabelValues(outcome).Inc()
	return res, nil
}

func (st *Store) evaluateAutoban(ctx context.Context, senderID int64) *model.Ban {
	ban, err := st.autoban.Evaluate(ctx, senderID)
	if err != nil {
		metricBookkeepingFailures.WithLabelValues(stageAutoban).Inc()
		st.logger.Error("autoban evaluation failed", zap.Int64("user_id", senderID), zap.Error(err))
		return nil
	}
	if ban != nil {
		st.logger.Warn("sender autobanned for spam",
			zap.Int64("user_id", senderID),
			zap.Time("expires_at", ban.ExpiresAt))
		st.fire(ctx, hook.OnUserAutobanned, &BanEvent{UserID: senderID, Ban: ban})
	}
	return ban
}

// deliverToRecipient resyncs the recipient's unread count and notifies
// them when the copy is one they should hear about.
func (st *Store) deliverToRecipient(ctx context.Context, m *model.Message, recipient *model.User) {
	n, err := st.unread.Resync(ctx, recipient.ID)
	if err != nil {
		metricBookkeepingFailures.WithLabelValues(stageUnread).Inc()
		st.logger.Error("unread resync after send failed",
			zap.Int64("user_id", recipient.ID),
			zap.Int64("message_id", m.ID),
			zap.Error(err))
	} else {
		recipient.UnreadMailCount = int(n)
		recipient.HasMail = n > 0
	}

	if !st.shouldNotify(m, recipient) {
		return
	}
	metricNotifications.Inc()
	st.notifier.Notify(ctx, m, recipient)
}

func (st *Store) shouldNotify(m *model.Message, recipient *model.User) bool {
	if m == nil || m.IsSpam || m.IsRead || !recipient.ReceiveMailNotifications {
		return false
	}
	return st.validate.Var(recipient.Email, "required,email") == nil
}

func (st *Store) fire(ctx context.Context, event string, data interface{}) {
	if err := st.hooks.Fire(ctx, event, data); err != nil {
		st.logger.Warn("mail hook failed", zap.String("event", event), zap.Error(err))
	}
}

// ---- Single copy operations ----

func (st *Store) find(ctx context.Context, id int64) (*model.Message, error) {
	var m model.Message
	if err := st.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (st *Store) owned(ctx context.Context, a Actor, id int64) (*model.Message, error) {
	m, err := st.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != a.ID {
		return nil, ErrForbidden
	}
	return m, nil
}

// Show returns a copy the actor may view. An owner viewing an unread copy
// marks it read; a privileged non-owner must present the copy's key and
// never changes it.
func (st *Store) Show(ctx context.Context, a Actor, id int64, key string) (*model.Message, error) {
	m, err := st.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != a.ID {
		if !st.guard.CanView(m, a, key) {
			return nil, ErrForbidden
		}
		return m, nil
	}
	if !m.IsRead {
		if err := st.MarkRead(ctx, a, id); err != nil {
			return nil, err
		}
		m.IsRead = true
	}
	return m, nil
}

// setFlag updates one boolean column on the actor's copy and resyncs the
// actor's unread count in the same transaction. The hook event fires only
// when the flag actually changed.
func (st *Store) setFlag(ctx context.Context, a Actor, id int64, column string, value bool, event string) error {
	if _, err := st.owned(ctx, a, id); err != nil {
		return err
	}
	return st.transact(ctx, func(tx *gorm.DB, after *afterCommit) error {
		res := tx.Model(&model.Message{}).
			Where("id = ? AND owner_id = ? AND "+column+" = ?", id, a.ID, !value).
			Update(column, value)
		if res.Error != nil {
			return res.Error
		}
		if _, err := st.unread.resyncIn(tx, a.ID); err != nil {
			return err
		}
		if res.RowsAffected > 0 {
			after.add(func(ctx context.Context) {
				st.fire(ctx, event, &CopyEvent{Actor: a, MessageID: id, Count: 1})
			})
		}
		return nil
	})
}

// MarkRead marks the actor's copy read. Marking a read copy again only
// resyncs the count.
func (st *Store) MarkRead(ctx context.Context, a Actor, id int64) error {
	return st.setFlag(ctx, a, id, "is_read", true, hook.OnMailRead)
}

// Delete flags the actor's copy deleted. Copies are never removed.
func (st *Store) Delete(ctx context.Context, a Actor, id int64) error {
	return st.setFlag(ctx, a, id, "is_deleted", true, hook.OnMailDeleted)
}

// Undelete restores a deleted copy of the actor's.
func (st *Store) Undelete(ctx context.Context, a Actor, id int64) error {
	return st.setFlag(ctx, a, id, "is_deleted", false, hook.OnMailUndeleted)
}

// MarkAllRead marks every unread copy the actor owns read and returns how
// many changed.
func (st *Store) MarkAllRead(ctx context.Context, a Actor) (int64, error) {
	var changed int64
	err := st.transact(ctx, func(tx *gorm.DB, after *afterCommit) error {
		res := tx.Model(&model.Message{}).
			Where("owner_id = ? AND is_read = ?", a.ID, false).
			Update("is_read", true)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected
		if _, err := st.unread.resyncIn(tx, a.ID); err != nil {
			return err
		}
		if changed > 0 {
			after.add(func(ctx context.Context) {
				st.fire(ctx, hook.OnMailRead, &CopyEvent{Actor: a, Count: changed})
			})
		}
		return nil
	})
	return changed, err
}

// ---- Per user settings ----

// Status is the actor's denormalized mail state.
type Status struct {
	HasMail     bool `json:"has_mail"`
	UnreadCount int  `json:"unread_count"`
}

// Status returns the actor's stored unread state.
func (st *Store) Status(ctx context.Context, a Actor) (Status, error) {
	u, err := st.loadUser(ctx, a.ID)
	if err != nil {
		return Status{}, err
	}
	return Status{HasMail: u.HasMail, UnreadCount: u.UnreadMailCount}, nil
}

// SetFilter replaces the actor's mail filter and returns it normalized.
// An empty string clears it.
func (st *Store) SetFilter(ctx context.Context, a Actor, words string) (string, error) {
	filter := NormalizeFilter(words)
	if utf8.RuneCountInString(filter) > maxFilterLength {
		return "", ValidationErrors{{Field: "words", Message: fmt.Sprintf("is too long (maximum is %d characters)", maxFilterLength)}}
	}
	res := st.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", a.ID).Update("mail_filter", filter)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := st.loadUser(ctx, a.ID); err != nil {
			return "", err
		}
	}
	return filter, nil
}

// ---- Views ----

// View is a copy as shown to its reader, with the key that lets a
// moderator open it.
type View struct {
	*model.Message
	Key string `json:"key"`
}

// View wraps m with its key.
func (st *Store) View(m *model.Message) View {
	return View{Message: m, Key: st.guard.Token(m.Title, m.Body)}
}

// Views wraps each of msgs.
func (st *Store) Views(msgs []model.Message) []View {
	out := make([]View, len(msgs))
	for i := range msgs {
		out[i] = st.View(&msgs[i])
	}
	return out
}
