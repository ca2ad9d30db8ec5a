package abr

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
)

// InterceptorFactory plugs the controller into a pion interceptor registry.
// Every RTCP packet read by an RTPSender passes through the interceptor, so
// receiver reports about our outbound streams become controller feedback.
type InterceptorFactory struct {
	ctrl *Controller
}

func NewInterceptorFactory(ctrl *Controller) *InterceptorFactory {
	return &InterceptorFactory{ctrl: ctrl}
}

func (f *InterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &feedbackInterceptor{
		ctrl:  f.ctrl,
		ssrcs: make(map[uint32]struct{}),
	}, nil
}

type feedbackInterceptor struct {
	interceptor.NoOp

	ctrl *Controller

	mu    sync.RWMutex
	ssrcs map[uint32]struct{}
}

func (i *feedbackInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	i.mu.Lock()
	i.ssrcs[info.SSRC] = struct{}{}
	i.mu.Unlock()
	return writer
}

func (i *feedbackInterceptor) UnbindLocalStream(info *interceptor.StreamInfo) {
	i.mu.Lock()
	delete(i.ssrcs, info.SSRC)
	i.mu.Unlock()
}

func (i *feedbackInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil {
			return n, attr, err
		}
		if attr == nil {
			attr = make(interceptor.Attributes)
		}
		pkts, err := attr.GetRTCPPackets(b[:n])
		if err != nil {
			return n, attr, nil //nolint:nilerr // malformed RTCP is not our concern here
		}

		i.mu.RLock()
		ssrcs := make(map[uint32]struct{}, len(i.ssrcs))
		for k := range i.ssrcs {
			ssrcs[k] = struct{}{}
		}
		i.mu.RUnlock()

		for _, r := range ReportsFromPackets(pkts, ssrcs, time.Now()) {
			i.ctrl.Observe(r)
		}
		return n, attr, nil
	})
}
