package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

func (r *Router) registerStreamTools() {
	r.register(Tool{
		Name:        "create_video_stream",
		Description: "Open a chunked byte stream over a completed job's video (mp4, webm, mov).",
		InputSchema: schema([]string{"jobId"}, map[string]Property{
			"jobId": {Type: TypeString, Description: "Completed render job id"},
		}),
	}, r.createVideoStream)

	r.register(Tool{
		Name:        "stream_video_chunk",
		Description: fmt.Sprintf("Read up to %d bytes of a stream starting at offset. Data is base64 encoded.", stream.ChunkSize),
		InputSchema: schema([]string{"streamId", "offset"}, map[string]Property{
			"streamId": {Type: TypeString, Description: "Stream id from create_video_stream"},
			"offset":   {Type: TypeInteger, Description: "Byte offset in [0, totalBytes)"},
		}),
	}, r.streamVideoChunk)

	r.register(Tool{
		Name:        "get_stream_info",
		Description: "Get the state of a video stream.",
		InputSchema: schema([]string{"streamId"}, map[string]Property{
			"streamId": {Type: TypeString, Description: "Stream id"},
		}),
	}, r.getStreamInfo)

	r.register(Tool{
		Name:        "list_video_streams",
		Description: "List video streams, newest first.",
		InputSchema: schema(nil, map[string]Property{}),
	}, r.listVideoStreams)

	r.register(Tool{
		Name:        "cancel_video_stream",
		Description: "Stop an active video stream.",
		InputSchema: schema([]string{"streamId"}, map[string]Property{
			"streamId": {Type: TypeString, Description: "Stream id"},
		}),
	}, r.cancelVideoStream)

	r.register(Tool{
		Name:        "cleanup_video_streams",
		Description: "Forget finished streams older than the given age. Files are never deleted.",
		InputSchema: schema(nil, map[string]Property{
			"olderThanHours": {Type: TypeNumber, Description: "Age threshold in hours (default 1)"},
		}),
	}, r.cleanupVideoStreams)
}

func (r *Router) createVideoStream(_ context.Context, args Args) (*Result, error) {
	jobID := args.String("jobId")
	out, err := r.outputs.Get(jobID, false)
	if err != nil {
		return nil, err
	}
	s, err := r.streams.Create(jobID, out.Path)
	if err != nil {
		return nil, err
	}

	chunks := (s.TotalBytes + stream.ChunkSize - 1) / stream.ChunkSize
	text := fmt.Sprintf("Stream %s opened over %s (%s, %s) in %d chunk(s) of up to %s. Call stream_video_chunk with offset 0 to begin.",
		s.ID, out.Filename, humanize.IBytes(uint64(s.TotalBytes)), s.ContentType, chunks,
		humanize.IBytes(stream.ChunkSize))
	return success(text, map[string]any{
		"streamId":  s.ID,
		"stream":    s,
		"chunkSize": stream.ChunkSize,
	}, r.resourceLink(out.Path, out.ContentType, r.outputDescription(out.Path, out.Size))), nil
}

func (r *Router) streamVideoChunk(_ context.Context, args Args) (*Result, error) {
	offset, _ := args.Int("offset")
	c, err := r.streams.Chunk(args.String("streamId"), offset)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Chunk %d-%d of %d bytes (%d bytes).", c.Offset, c.Offset+int64(c.Size), c.Total, c.Size)
	data := map[string]any{
		"streamId": c.StreamID,
		"offset":   c.Offset,
		"size":     c.Size,
		"total":    c.Total,
		"isLast":   c.IsLast,
		"data":     base64.StdEncoding.EncodeToString(c.Data),
	}
	if c.IsLast {
		text += " Last chunk; stream completed."
	} else {
		data["nextOffset"] = c.Offset + int64(c.Size)
	}
	return success(text, data), nil
}

func (r *Router) getStreamInfo(_ context.Context, args Args) (*Result, error) {
	const op = "tools.get_stream_info"
	id := args.String("streamId")
	s, err := r.streams.Get(id)
	if errors.Is(err, stream.ErrStreamNotFound) {
		return nil, toolerr.NotFound(op, toolerr.ReasonStreamNotFound, fmt.Sprintf("stream %q not found", id))
	}
	if err != nil {
		return nil, toolerr.System(op, err)
	}
	return success(describeStream(s), map[string]any{"stream": s}), nil
}

func (r *Router) listVideoStreams(_ context.Context, _ Args) (*Result, error) {
	streams := r.streams.List()

	var b strings.Builder
	if len(streams) == 0 {
		b.WriteString("No video streams.")
	} else {
		fmt.Fprintf(&b, "%d video stream(s):", len(streams))
		for _, s := range streams {
			b.WriteString("\n- ")
			b.WriteString(describeStream(s))
		}
	}
	return success(b.String(), map[string]any{"streams": streams, "count": len(streams)}), nil
}

func (r *Router) cancelVideoStream(_ context.Context, args Args) (*Result, error) {
	id := args.String("streamId")
	cancelled := r.streams.Cancel(id)
	text := fmt.Sprintf("Stream %s cancelled.", id)
	if !cancelled {
		text = fmt.Sprintf("Stream %s was not cancelled: it is unknown or already finished.", id)
	}
	return success(text, map[string]any{"streamId": id, "cancelled": cancelled}), nil
}

func (r *Router) cleanupVideoStreams(_ context.Context, args Args) (*Result, error) {
	olderThan, err := hoursArg("tools.cleanup_video_streams", args, r.settings.DefaultStreamRetention)
	if err != nil {
		return nil, err
	}
	removed := r.streams.CleanupCompleted(olderThan)
	return success(
		fmt.Sprintf("Removed %d finished stream(s) older than %s.", removed, olderThan),
		map[string]any{"removed": removed, "olderThanHours": olderThan.Hours()},
	), nil
}

func describeStream(s *stream.Stream) string {
	pct := 0.0
	if s.TotalBytes > 0 {
		pct = float64(s.StreamedBytes) * 100 / float64(s.TotalBytes)
	}
	line := fmt.Sprintf("%s (job %s) %s: %s of %s (%.0f%%)", s.ID, s.JobID, s.Status,
		humanize.IBytes(uint64(s.StreamedBytes)), humanize.IBytes(uint64(s.TotalBytes)), pct)
	if s.Error != "" {
		line += ": " + s.Error
	}
	return line
}
