package ledger

// credit and debit are the only code paths that change a member balance.
// Higher-level operations validate every precondition first, so by the time
// either primitive runs inside a transition it cannot fail; the checks here
// guard direct callers and tests.

func (s *State) credit(op Kind, id MemberID, amount int64) error {
	if amount <= 0 {
		return reject(op, CodeInvalidInput, "credit amount must be positive, got %d", amount)
	}
	m, err := s.member(op, id)
	if err != nil {
		return err
	}
	m.Balance += amount
	return nil
}

func (s *State) debit(op Kind, id MemberID, amount int64) error {
	if amount <= 0 {
		return reject(op, CodeInvalidInput, "debit amount must be positive, got %d", amount)
	}
	m, err := s.member(op, id)
	if err != nil {
		return err
	}
	if m.Balance < amount {
		return reject(op, CodeInsufficientBalance, "member %s has %d credits, needs %d", id, m.Balance, amount)
	}
	m.Balance -= amount
	return nil
}

// canDebit reports the rejection debit would return without mutating.
func (s *State) canDebit(op Kind, id MemberID, amount int64) error {
	m, err := s.member(op, id)
	if err != nil {
		return err
	}
	if m.Balance < amount {
		return reject(op, CodeInsufficientBalance, "member %s has %d credits, needs %d", id, m.Balance, amount)
	}
	return nil
}
