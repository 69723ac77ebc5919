package pipeline

// SplitText 按字符（rune）切分文本，相邻分块重叠 chunkOverlap 个字符。
// chunkOverlap 不小于 chunkSize 时退化为无重叠切分。
func SplitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || chunkSize <= 0 {
		return nil
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// JoinChunks 是 SplitText 的逆操作：去掉每个后续分块开头的重叠部分后拼接。
func JoinChunks(chunks []string, chunkOverlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 && chunkOverlap > 0 {
			if chunkOverlap >= len(r) {
				continue
			}
			r = r[chunkOverlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
