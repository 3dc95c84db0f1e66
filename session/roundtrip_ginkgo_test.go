package session_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/session"
)

var _ = Describe("Session round-trip laws", func() {
	var (
		binding     *carrier.FolderBinding
		poller      *carrier.Poller
		client, srv *session.Session
		ctx         context.Context
		cancel      context.CancelFunc
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		var err error
		binding, err = carrier.NewFolderBinding(dir)
		Expect(err).NotTo(HaveOccurred())
		poller = carrier.NewPoller(5*time.Millisecond, 20*time.Millisecond)
		client = session.New(binding, poller, "cid1", "rid1", 42)
		srv = session.New(binding, poller, "rid1", "cid1", 42)
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	})

	AfterEach(func() {
		cancel()
		Expect(binding.Close()).To(Succeed())
	})

	receiveAll := func(want int) []byte {
		var got []byte
		for len(got) < want {
			chunk, err := srv.ReceiveChunk(ctx)
			Expect(err).NotTo(HaveOccurred())
			got = append(got, chunk...)
		}
		return got
	}

	It("round-trips a payload smaller than one chunk", func() {
		payload := []byte("the quick brown fox jumps over the lazy dog")
		Expect(client.Send(payload)).To(Succeed())
		Expect(receiveAll(len(payload))).To(Equal(payload))
	})

	It("round-trips a payload exactly MaxChunk bytes as a single blob", func() {
		payload := make([]byte, session.MaxChunk)
		for i := range payload {
			payload[i] = byte(i)
		}
		Expect(client.Send(payload)).To(Succeed())

		uids, err := binding.List(carrier.FilterFor("rid1", 42, nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(uids).To(HaveLen(1), "an exact-MaxChunk payload must produce exactly one blob")

		Expect(receiveAll(len(payload))).To(Equal(payload))
	})

	It("round-trips a MaxChunk+1 payload as exactly two blobs", func() {
		payload := make([]byte, session.MaxChunk+1)
		for i := range payload {
			payload[i] = byte(i)
		}
		Expect(client.Send(payload)).To(Succeed())

		uids, err := binding.List(carrier.FilterFor("rid1", 42, nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(uids).To(HaveLen(2), "a MaxChunk+1 payload must produce exactly two blobs")

		Expect(receiveAll(len(payload))).To(Equal(payload))
	})

	It("delivers a zero-length chunk as empty bytes, distinct from close", func() {
		Expect(client.Send(nil)).To(Succeed())
		chunk, err := srv.ReceiveChunk(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunk).To(BeEmpty())
		Expect(chunk).NotTo(BeNil(), "empty payload must not be confused with the close sentinel")
	})

	It("signals close with an error from ReceiveChunk, not a zero-length chunk", func() {
		Expect(client.Close(false)).To(Succeed())
		_, err := srv.ReceiveChunk(ctx)
		Expect(err).To(HaveOccurred())
	})
})
