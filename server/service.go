package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// Namer lets a receiver publish itself under a name other than its type name.
type Namer interface {
	ServiceName() string
}

type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService scans rcvr for exported methods shaped like
//
//	func (r *T) Method(ctx context.Context, req *Req, resp *Resp) error
//	func (r *T) Method(req *Req, resp *Resp) error
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}

	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	if n, ok := rcvr.(Namer); ok {
		s.name = n.ServiceName()
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported rpc methods", s.name)
	}
	return s, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		mt := m.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		var withCtx bool
		switch mt.NumIn() {
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			withCtx = true
		case 3:
		default:
			continue
		}
		argT, replyT := mt.In(mt.NumIn()-2), mt.In(mt.NumIn()-1)
		if argT.Kind() != reflect.Ptr || replyT.Kind() != reflect.Ptr {
			continue
		}

		s.method[m.Name] = &methodType{
			method:    m,
			withCtx:   withCtx,
			ArgType:   argT.Elem(),
			ReplyType: replyT.Elem(),
		}
	}
}

// methodNames returns the registered method names in sorted order.
func (s *service) methodNames() []string {
	names := make([]string, 0, len(s.method))
	for name := range s.method {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	var results []reflect.Value
	if mType.withCtx {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv})
	} else {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	}
	if err, _ := results[0].Interface().(error); err != nil {
		return err
	}
	return nil
}
