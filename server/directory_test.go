package server

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Directory", func() {
	var (
		dir  *Directory
		conn *fakeConn
		ctx  context.Context
	)

	BeforeEach(func() {
		dir = NewDirectory(nil)
		conn = &fakeConn{}
		ctx = context.Background()
	})

	It("registers, looks up and removes connections", func() {
		id := dir.Register(conn, "10.0.0.1:5555")
		Expect(id).NotTo(BeEmpty())
		Expect(dir.Len()).To(Equal(1))

		info, ok := dir.Lookup(id)
		Expect(ok).To(BeTrue())
		Expect(info.ID).To(Equal(id))
		Expect(info.SourceIP).To(Equal("10.0.0.1:5555"))
		Expect(info.ConnectedAt).NotTo(BeZero())

		Expect(dir.Remove(id)).To(BeTrue())
		Expect(dir.Remove(id)).To(BeFalse())
		_, ok = dir.Lookup(id)
		Expect(ok).To(BeFalse())
		Expect(conn.isClosed()).To(BeFalse())
	})

	It("hands out distinct IDs", func() {
		a := dir.Register(&fakeConn{}, "")
		b := dir.Register(&fakeConn{}, "")
		Expect(a).NotTo(Equal(b))
	})

	It("posts payloads and tracks activity", func() {
		id := dir.Register(conn, "")
		before, _ := dir.Lookup(id)

		time.Sleep(2 * time.Millisecond)
		Expect(dir.Post(ctx, id, []byte(`{"a":1}`))).To(Succeed())

		Expect(conn.written()).To(Equal([]string{`{"a":1}`}))
		after, _ := dir.Lookup(id)
		Expect(after.LastActiveAt).To(BeTemporally(">", before.LastActiveAt))
	})

	It("returns ErrGone for unknown connections", func() {
		Expect(dir.Post(ctx, "missing", []byte("x"))).To(MatchError(ErrGone))
	})

	It("returns ErrGone and forgets the connection when a write fails", func() {
		conn.writeErr = errors.New("broken pipe")
		id := dir.Register(conn, "")

		err := dir.Post(ctx, id, []byte("x"))
		Expect(err).To(MatchError(ErrGone))
		Expect(err).To(MatchError(ContainSubstring("broken pipe")))
		Expect(dir.Len()).To(BeZero())
	})

	It("uses the context deadline as the write deadline", func() {
		id := dir.Register(conn, "")
		deadline := time.Now().Add(time.Minute)
		dctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()

		Expect(dir.Post(dctx, id, []byte("x"))).To(Succeed())
		Expect(conn.deadlines).To(HaveLen(1))
		Expect(conn.deadlines[0]).To(BeTemporally("==", deadline))
	})

	It("serializes concurrent writes to one connection", func() {
		conn.delay = time.Millisecond
		id := dir.Register(conn, "")

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for range 5 {
					Expect(dir.Post(ctx, id, []byte("x"))).To(Succeed())
				}
			}()
		}
		wg.Wait()

		Expect(conn.written()).To(HaveLen(40))
		Expect(conn.overlap.Load()).To(BeFalse())
	})

	It("disconnects a connection", func() {
		id := dir.Register(conn, "")
		Expect(dir.Disconnect(id)).To(Succeed())
		Expect(conn.isClosed()).To(BeTrue())
		Expect(dir.Disconnect(id)).To(MatchError(ErrGone))
	})

	Context("with a connection owned by its handler", func() {
		It("waits for an in-flight write before releasing", func() {
			conn.delay = 100 * time.Millisecond
			id, release := dir.Accept(conn, "")

			posted := make(chan error, 1)
			go func() { posted <- dir.Post(ctx, id, []byte("x")) }()
			Eventually(conn.writing.Load).Should(Equal(int32(1)))

			release()

			Expect(conn.writing.Load()).To(BeZero())
			Expect(conn.written()).To(Equal([]string{"x"}))
			Eventually(posted).Should(Receive(BeNil()))
			Expect(dir.Len()).To(BeZero())
		})

		It("never touches the connection after release", func() {
			id, release := dir.Accept(conn, "")
			dir.mu.RLock()
			stale := dir.conns[id]
			dir.mu.RUnlock()

			release()

			// A session that looked the entry up before release.
			dir.mu.Lock()
			dir.conns[id] = stale
			dir.mu.Unlock()

			Expect(dir.Post(ctx, id, []byte("late"))).To(MatchError(ErrGone))
			Expect(dir.Disconnect(id)).To(Succeed())
			Expect(conn.written()).To(BeEmpty())
			Expect(conn.deadlines).To(BeEmpty())
			Expect(conn.isClosed()).To(BeFalse())
		})
	})

	It("closes every connection", func() {
		other := &fakeConn{}
		dir.Register(conn, "")
		dir.Register(other, "")

		dir.CloseAll()
		Expect(dir.Len()).To(BeZero())
		Expect(conn.isClosed()).To(BeTrue())
		Expect(other.isClosed()).To(BeTrue())
	})
})
