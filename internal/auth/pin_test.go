package auth

import (
	"regexp"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGeneratePIN_FormatAndRange(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 2000; i++ {
		pin, err := GeneratePIN()
		if err != nil {
			t.Fatalf("GeneratePIN() error: %v", err)
		}
		if !re.MatchString(pin) {
			t.Fatalf("GeneratePIN() = %q, not six digits", pin)
		}
		n, _ := strconv.Atoi(pin)
		if n < pinMin || n > pinMax {
			t.Fatalf("GeneratePIN() = %d, outside [%d, %d]", n, pinMin, pinMax)
		}
	}
}

func TestGeneratePIN_NotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		pin, _ := GeneratePIN()
		seen[pin] = true
	}
	if len(seen) < 40 {
		t.Errorf("only %d distinct PINs in 50 draws", len(seen))
	}
}

func TestHashPIN_RoundTrip(t *testing.T) {
	pin, err := GeneratePIN()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := HashPIN(pin, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPIN() error: %v", err)
	}
	if hash == pin {
		t.Fatal("hash equals plaintext")
	}

	ok, err := ComparePIN(hash, pin)
	if err != nil || !ok {
		t.Errorf("ComparePIN(correct) = %v, %v; want true, nil", ok, err)
	}

	wrong := "000000"
	if pin == wrong {
		wrong = "111111"
	}
	ok, err = ComparePIN(hash, wrong)
	if err != nil || ok {
		t.Errorf("ComparePIN(wrong) = %v, %v; want false, nil", ok, err)
	}
}

func TestHashPIN_IsSalted(t *testing.T) {
	a, _ := HashPIN("123456", bcrypt.MinCost)
	b, _ := HashPIN("123456", bcrypt.MinCost)
	if a == b {
		t.Error("two hashes of the same PIN are identical")
	}
}

func TestComparePIN_CorruptHash(t *testing.T) {
	if _, err := ComparePIN("not-a-bcrypt-hash", "123456"); err == nil {
		t.Error("expected error for corrupt hash")
	}
}
