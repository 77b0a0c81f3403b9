package camera

import (
	"sync"
)

// FrameStore はチャンネル毎の最新フレームと状態を保持する
// エントリは作成時に固定され、削除されることはない
type FrameStore struct {
	mu       sync.Mutex
	channels []Channel
	entries  map[Channel]*Entry
}

// NewFrameStore は指定されたチャンネルのエントリを持つFrameStoreを作成する
// 全エントリはフレームなし・StatusIdle で初期化される
// 重複したチャンネルは最初の1つだけが使われる
func NewFrameStore(channels []Channel) *FrameStore {
	s := &FrameStore{
		channels: make([]Channel, 0, len(channels)),
		entries:  make(map[Channel]*Entry, len(channels)),
	}

	for _, ch := range channels {
		if _, exists := s.entries[ch]; exists {
			continue
		}
		s.channels = append(s.channels, ch)
		s.entries[ch] = &Entry{Channel: ch, Status: StatusIdle}
	}

	return s
}

// Channels は設定順のチャンネル一覧を返す
func (s *FrameStore) Channels() []Channel {
	result := make([]Channel, len(s.channels))
	copy(result, s.channels)
	return result
}

// Publish は指定チャンネルのフレームを置き換える（状態は変更しない）
func (s *FrameStore) Publish(ch Channel, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[ch]
	if !exists {
		return ErrUnknownChannel
	}
	entry.Frame = frame
	return nil
}

// PublishStatus は指定チャンネルの状態を置き換える（フレームは変更しない）
func (s *FrameStore) PublishStatus(ch Channel, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[ch]
	if !exists {
		return ErrUnknownChannel
	}
	entry.Status = status
	return nil
}

// Snapshot はある時点の全エントリを設定順で返す
// フレームは参照のみコピーされる
func (s *FrameStore) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Entry, len(s.channels))
	for i, ch := range s.channels {
		result[i] = *s.entries[ch]
	}
	return result
}

// Get は指定チャンネルのエントリを返す
func (s *FrameStore) Get(ch Channel) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[ch]
	if !exists {
		return Entry{}, false
	}
	return *entry, true
}
