package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTooManyLogins      ErrCode = "TOO_MANY_LOGIN_ATTEMPTS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrStaffAccessOnly ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotActive     ErrCode = "EXAM_NOT_ACTIVE"
	ErrExamOutOfWindow   ErrCode = "EXAM_OUT_OF_WINDOW"
	ErrAttemptsExhausted ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrNotExamAuthor     ErrCode = "NOT_EXAM_AUTHOR"
	ErrMalformedExam     ErrCode = "MALFORMED_EXAM"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrIndexOutOfRange      ErrCode = "INDEX_OUT_OF_RANGE"
	ErrAttemptClosed        ErrCode = "ATTEMPT_CLOSED"
	ErrSubmissionInProgress ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrSubmissionFailed     ErrCode = "SUBMISSION_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email atau kata sandi salah."
	case ErrTooManyLogins:
		return "Terlalu banyak percobaan login. Silakan coba lagi nanti."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStaffAccessOnly:
		return "Sumber daya ini terbatas untuk guru dan administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrDependencyExists:
		return "Data tidak dapat dihapus karena masih digunakan oleh data lain."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotActive:
		return "Ujian ini tidak aktif."
	case ErrExamOutOfWindow:
		return "Ujian ini berada di luar jadwal pelaksanaan."
	case ErrAttemptsExhausted:
		return "Kesempatan mengerjakan ujian ini sudah habis."
	case ErrNotExamAuthor:
		return "Anda bukan pembuat ujian ini."
	case ErrMalformedExam:
		return "Konfigurasi ujian tidak valid: total nilai harus lebih dari 0."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrIndexOutOfRange:
		return "Jawaban memuat pilihan yang tidak ada pada soal."
	case ErrAttemptClosed:
		return "Percobaan ujian ini sudah dikumpulkan."
	case ErrSubmissionInProgress:
		return "Pengumpulan jawaban sedang diproses."
	case ErrSubmissionFailed:
		return "Pengumpulan jawaban gagal. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
