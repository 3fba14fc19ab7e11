package eventbus

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/pkg/serrors"
)

var ErrNoSubscribers = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")

type EventBus interface {
	Publish(event any)
	Subscribe(handler any)
	Unsubscribe(handler any)
	Clear()
	SubscribersCount() int
}

type subscriber struct {
	handler reflect.Value
	arg     reflect.Type
}

type publisherImpl struct {
	mu          sync.RWMutex
	log         *logrus.Logger
	subscribers []subscriber
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

// Subscribe registers a one-argument function; it receives every published
// event assignable to its parameter type. Panics on anything else, at wiring
// time rather than at publish time.
func (p *publisherImpl) Subscribe(handler any) {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		panic("eventbus: handler must be func(Event)")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriber{
		handler: reflect.ValueOf(handler),
		arg:     t.In(0),
	})
}

func (p *publisherImpl) Publish(event any) {
	if event == nil {
		return
	}
	eventType := reflect.TypeOf(event)

	p.mu.RLock()
	matched := make([]subscriber, 0, len(p.subscribers))
	for _, s := range p.subscribers {
		if matches(eventType, s.arg) {
			matched = append(matched, s)
		}
	}
	p.mu.RUnlock()

	if len(matched) == 0 {
		if p.log != nil {
			p.log.WithError(ErrNoSubscribers).WithField("event", eventType.String()).Warn("eventbus: event dropped")
		}
		return
	}

	in := []reflect.Value{reflect.ValueOf(event)}
	for _, s := range matched {
		p.call(s, in)
	}
}

func (p *publisherImpl) call(s subscriber, in []reflect.Value) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.WithField("handler", s.handler.Type().String()).
				Errorf("eventbus: handler panicked: %v", r)
		}
	}()
	s.handler.Call(in)
}

func (p *publisherImpl) Unsubscribe(handler any) {
	v := reflect.ValueOf(handler)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subscribers {
		if s.handler == v || s.handler.Pointer() == v.Pointer() {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = nil
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func matches(eventType, paramType reflect.Type) bool {
	if paramType.Kind() == reflect.Interface {
		return eventType.Implements(paramType)
	}
	return eventType.AssignableTo(paramType)
}
