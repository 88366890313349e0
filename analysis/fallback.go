package analysis

import (
	"context"

	"imgtriage/sampling"
	"imgtriage/scanner"
	"imgtriage/signals"

	"github.com/sirupsen/logrus"
)

// fallback applies the content signals to the first FallbackScanBytes of the
// raw buffer. The upload name is not a file inside the artifact, so susp_ext
// never fires here. When asSample is set the buffer is also offered to the
// scorer as the single sample, which is how arbitrary (non-image) uploads are
// scored.
func (a *Analyzer) fallback(ctx context.Context, in Input, sum *Summary, asSample bool, log *logrus.Entry) *findings {
	found := &findings{}
	head := rawHead(in.Data, a.cfg.FallbackScanBytes)
	set := signals.ExtractContent(int64(len(in.Data)), head)
	entropy := set.Entropy
	sum.FallbackEntropy = &entropy
	sum.FileCount = 0

	reasons := set.Reasons()
	if set.Suspicious() {
		item := suspiciousItem(RawImageLabel, int64(len(in.Data)), reasons)
		item.Extension = signals.Extension(in.Name)
		item.MimeType = scanner.DetectMime(head)
		if set.HasPEHeader {
			item.PE = parsePE(head)
		}
		sum.Suspicious = append(sum.Suspicious, item)
		found.evidence.Observe(reasons)
	}
	log.WithFields(logrus.Fields{
		"entropy": entropy,
		"reasons": len(reasons),
	}).Debug("Raw-byte fallback analysis")

	if asSample {
		if reasons == nil {
			reasons = []string{}
		}
		sampleHead := head
		if a.cfg.SampleHeadSize > 0 && len(sampleHead) > a.cfg.SampleHeadSize {
			sampleHead = sampleHead[:a.cfg.SampleHeadSize]
		}
		ev, score := a.inspectSample(ctx, sampling.Item{
			Path:    RawImageLabel,
			Name:    in.Name,
			Head:    sampleHead,
			Size:    int64(len(in.Data)),
			Reasons: reasons,
		}, log)
		sum.Samples = append(sum.Samples, ev)
		if score != nil {
			found.scores = append(found.scores, *score)
		}
	}
	return found
}

func parsePE(head []byte) (info *scanner.PEInfo) {
	defer func() {
		if recover() != nil {
			info = nil
		}
	}()
	return scanner.ParsePE(head)
}
