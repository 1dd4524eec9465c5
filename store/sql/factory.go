package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	userSessionStore *UserSessionStore
	eventLogStore    *EventLogStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.userSessionStore != nil && f.eventLogStore != nil {
		return nil
	}

	userSessionStore, err := NewUserSessionStore(f.db)
	if err != nil {
		return err
	}
	eventLogStore, err := NewEventLogStore(f.db)
	if err != nil {
		return err
	}
	f.userSessionStore = userSessionStore
	f.eventLogStore = eventLogStore
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UserSessionStore() *UserSessionStore {
	if f == nil {
		return nil
	}
	return f.userSessionStore
}

func (f *RepositoryFactory) EventLogStore() *EventLogStore {
	if f == nil {
		return nil
	}
	return f.eventLogStore
}

// CachedUserSessionStore decorates the SQL session store with cacheService.
func (f *RepositoryFactory) CachedUserSessionStore(cacheService repositorycache.CacheService) (*CachedUserSessionStore, error) {
	if f == nil || f.userSessionStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory has no user session store")
	}
	return NewCachedUserSessionStore(f.userSessionStore, cacheService)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
