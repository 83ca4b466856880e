// Package memory is a process-local repository.Store used for development
// (database.driver=memory) and by service tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

type state struct {
	mu sync.Mutex

	messages     map[uuid.UUID]*model.OutboundMessage
	messageOrder []uuid.UUID
	customers    map[uuid.UUID]*model.Customer
	tags         map[uuid.UUID]*model.Tag
	customerTags map[uuid.UUID][]uuid.UUID
	templates    map[uuid.UUID]*model.Template
	interactions []*model.Interaction
	workflows    map[uuid.UUID]*model.Workflow
	users        map[uuid.UUID]*model.User
}

func newState() *state {
	return &state{
		messages:     make(map[uuid.UUID]*model.OutboundMessage),
		customers:    make(map[uuid.UUID]*model.Customer),
		tags:         make(map[uuid.UUID]*model.Tag),
		customerTags: make(map[uuid.UUID][]uuid.UUID),
		templates:    make(map[uuid.UUID]*model.Template),
		workflows:    make(map[uuid.UUID]*model.Workflow),
		users:        make(map[uuid.UUID]*model.User),
	}
}

// Store implements repository.Store in memory. Transactions are serialised
// and rolled back by restoring a snapshot; calls made outside a transaction wait
// for the open one, so the snapshot only ever covers the transaction's own writes.
type Store struct {
	data *state
	txMu *sync.Mutex
	inTx bool
}

func NewStore() *Store {
	return &Store{data: newState(), txMu: &sync.Mutex{}}
}

// view is the state as one repository call sees it. Outside a transaction the
// gate is the transaction lock.
type view struct {
	*state
	gate sync.Locker
}

func (v view) lock() {
	if v.gate != nil {
		v.gate.Lock()
	}
	v.mu.Lock()
}

func (v view) unlock() {
	v.mu.Unlock()
	if v.gate != nil {
		v.gate.Unlock()
	}
}

func (s *Store) repoView() view {
	if s.inTx {
		return view{state: s.data}
	}
	return view{state: s.data, gate: s.txMu}
}

func (s *Store) Messages() repository.OutboundMessageRepository {
	return &messageRepository{s.repoView()}
}

func (s *Store) Customers() repository.CustomerRepository {
	return &customerRepository{s.repoView()}
}

func (s *Store) Tags() repository.TagRepository {
	return &tagRepository{s.repoView()}
}

func (s *Store) Templates() repository.TemplateRepository {
	return &templateRepository{s.repoView()}
}

func (s *Store) Interactions() repository.InteractionRepository {
	return &interactionRepository{s.repoView()}
}

func (s *Store) Workflows() repository.WorkflowRepository {
	return &workflowRepository{s.repoView()}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{s.repoView()}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.data.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.data.restore(snap)
			panic(p)
		}
	}()

	if err = fn(&Store{data: s.data, txMu: s.txMu, inTx: true}); err != nil {
		s.data.restore(snap)
		return err
	}
	return nil
}

func (st *state) snapshot() *state {
	st.mu.Lock()
	defer st.mu.Unlock()

	cp := newState()
	for id, m := range st.messages {
		cp.messages[id] = cloneMessage(m)
	}
	cp.messageOrder = append([]uuid.UUID(nil), st.messageOrder...)
	for id, c := range st.customers {
		cp.customers[id] = cloneCustomer(c)
	}
	for id, t := range st.tags {
		tag := *t
		cp.tags[id] = &tag
	}
	for id, ids := range st.customerTags {
		cp.customerTags[id] = append([]uuid.UUID(nil), ids...)
	}
	for id, t := range st.templates {
		tpl := *t
		cp.templates[id] = &tpl
	}
	cp.interactions = append([]*model.Interaction(nil), st.interactions...)
	for id, w := range st.workflows {
		cp.workflows[id] = cloneWorkflow(w)
	}
	for id, u := range st.users {
		user := *u
		cp.users[id] = &user
	}
	return cp
}

func (st *state) restore(snap *state) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.messages = snap.messages
	st.messageOrder = snap.messageOrder
	st.customers = snap.customers
	st.tags = snap.tags
	st.customerTags = snap.customerTags
	st.templates = snap.templates
	st.interactions = snap.interactions
	st.workflows = snap.workflows
	st.users = snap.users
}
