package clock

import "sync"

// Sequence — монотонно возрастающий счетчик в духе часов Лампорта.
// Используется как второй ключ сортировки команд с одинаковым временем создания.
type Sequence struct {
	counter int64      // последнее выданное значение
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewSequence creates a sequence starting after start.
func NewSequence(start int64) *Sequence {
	return &Sequence{counter: start}
}

// Next увеличивает счетчик и возвращает новое значение.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	return s.counter
}

// Observe продвигает счетчик до значения, прочитанного из хранилища,
// чтобы после перезапуска новые значения не повторяли уже выданные.
// counter = max(counter, seen)
func (s *Sequence) Observe(seen int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seen > s.counter {
		s.counter = seen
	}
}

// Current возвращает текущее значение счетчика без его изменения.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counter
}
