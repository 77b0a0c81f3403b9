package stream

import "bytes"

const (
	// Boundary はmultipartの境界文字列
	Boundary = "frame"

	// ContentType はストリームレスポンスのContent-Type
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	partHeader = "--" + Boundary + "\r\n" + "Content-Type: image/jpeg\r\n\r\n"
	partFooter = "\r\n"
)

// FrameChunk はJPEGデータを1パート分の形式で包む
//
//	--frame\r\n
//	Content-Type: image/jpeg\r\n\r\n
//	<jpeg>\r\n
func FrameChunk(jpeg []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(partHeader) + len(jpeg) + len(partFooter))
	buf.WriteString(partHeader)
	buf.Write(jpeg)
	buf.WriteString(partFooter)
	return buf.Bytes()
}

