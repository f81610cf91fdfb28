// released under the MIT license

// Package dns resolves legacy-server hostnames into an ordered endpoint
// list, off the event loop, with completions delivered back onto it.
package dns

import (
	"context"
	"net"

	"github.com/lep/biboumi/gateway/eventloop"
)

// Endpoint is one candidate address to connect to.
type Endpoint struct {
	IP   net.IP
	Port string
	TLS  bool
}

func (ep Endpoint) Addr() string {
	return net.JoinHostPort(ep.IP.String(), ep.Port)
}

// Resolver performs one asynchronous lookup at a time on behalf of a
// socket handler. All methods run on the loop goroutine; the lookup
// itself runs on its own goroutine and posts its completion back.
//
// Clear invalidates any in-flight lookup: its completion becomes a
// no-op, satisfying the cancellation contract.
type Resolver struct {
	loop *eventloop.Loop

	resolving bool
	resolved  bool
	endpoints []Endpoint
	errMsg    string
	gen       uint64
}

func NewResolver(loop *eventloop.Loop) *Resolver {
	return &Resolver{loop: loop}
}

func (r *Resolver) IsResolving() bool { return r.resolving }

func (r *Resolver) IsResolved() bool { return r.resolved }

// Result returns the resolved endpoints; empty means resolution failed.
func (r *Resolver) Result() []Endpoint { return r.endpoints }

func (r *Resolver) ErrorMessage() string { return r.errMsg }

// Clear resets the resolver and orphans any in-flight lookup.
func (r *Resolver) Clear() {
	r.gen++
	r.resolving = false
	r.resolved = false
	r.endpoints = nil
	r.errMsg = ""
}

// Resolve looks up host and calls exactly one of onSuccess or onFailure
// on the loop goroutine. Addresses are kept in resolver order; both
// IPv6 and IPv4 results are returned when available and must be tried
// in that order.
func (r *Resolver) Resolve(host, port string, tls bool, onSuccess func([]Endpoint), onFailure func(msg string)) {
	if r.resolving {
		return
	}
	r.resolving = true
	r.resolved = false
	r.endpoints = nil
	r.errMsg = ""
	gen := r.gen

	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		r.loop.Post(func() {
			if gen != r.gen {
				// resolver was cleared while the query was in flight
				return
			}
			r.resolving = false
			r.resolved = true
			if err != nil {
				r.errMsg = err.Error()
				onFailure(r.errMsg)
				return
			}
			if len(addrs) == 0 {
				r.errMsg = "no addresses found for " + host
				onFailure(r.errMsg)
				return
			}
			for _, addr := range addrs {
				r.endpoints = append(r.endpoints, Endpoint{IP: addr.IP, Port: port, TLS: tls})
			}
			onSuccess(r.endpoints)
		})
	}()
}
