package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"crease/internal/logging"
	"crease/internal/services"
)

const uploadPath = "/api/upload"

// ProgressFunc receives the number of video bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

// UploadVideo streams the video and form fields to the backend. The backend
// either answers with the finished analysis or, for asynchronous deployments,
// with a job id to poll.
func (c *Client) UploadVideo(ctx context.Context, form UploadForm, progress ProgressFunc) (*UploadResponse, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindValidation, Message: err.Error()}
	}

	file, err := os.Open(form.VideoURI)
	if err != nil {
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindValidation, Message: "open video", Err: err}
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindValidation, Message: "stat video", Err: err}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	req, err := c.newRequest(ctx, http.MethodPost, uploadPath, pr, true)
	if err != nil {
		_ = file.Close()
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	go func() {
		defer file.Close()
		pw.CloseWithError(writeMultipart(writer, form, file, info.Size(), progress))
	}()

	c.logger.Info("uploading video",
		logging.String("video", form.VideoName),
		logging.Int64("size_bytes", info.Size()),
		logging.String("player_type", string(form.PlayerType)),
		logging.String(logging.FieldEventType, "upload_request_started"),
	)

	var raw json.RawMessage
	if err := c.send(c.upload, req, uploadPath, &raw); err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	return decodeUploadResponse(raw)
}

func writeMultipart(writer *multipart.Writer, form UploadForm, video io.Reader, total int64, progress ProgressFunc) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, form.VideoName))
	contentType := strings.TrimSpace(form.VideoType)
	if contentType == "" {
		contentType = VideoMIMEType(form.VideoName)
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	counter := &progressWriter{w: part, total: total, fn: progress}
	if _, err := io.Copy(counter, video); err != nil {
		return err
	}

	fields := [][2]string{{"player_type", string(form.PlayerType)}}
	switch form.PlayerType {
	case PlayerBatsman:
		fields = append(fields, [2]string{"batter_side", string(form.BatterSide)})
		if form.ShotType != "" {
			fields = append(fields, [2]string{"shot_type", form.ShotType})
		}
	case PlayerBowler:
		fields = append(fields, [2]string{"bowler_side", string(form.BowlerSide)})
		if form.BowlerType != "" {
			fields = append(fields, [2]string{"bowler_type", string(form.BowlerType)})
		}
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}
	return writer.Close()
}

type progressWriter struct {
	w     io.Writer
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.sent += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.sent, p.total)
	}
	return n, err
}

func decodeUploadResponse(raw json.RawMessage) (*UploadResponse, error) {
	var envelope struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindUnknown, Message: "decode upload response", Err: err}
	}
	if id := strings.TrimSpace(envelope.JobID); id != "" {
		return &UploadResponse{JobID: id}, nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindUnknown, Message: "decode upload response", Err: err}
	}
	if !result.Success && result.Error != "" {
		return nil, &RequestError{Method: http.MethodPost, Path: uploadPath, Kind: services.KindServerRejected, Message: result.Error}
	}
	return &UploadResponse{Result: &result}, nil
}
